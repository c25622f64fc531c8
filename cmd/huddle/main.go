package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	relayws "github.com/avesler/huddle/internal/adapters/relay"
	"github.com/avesler/huddle/internal/adapters/rtc"
	"github.com/avesler/huddle/internal/app/call"
	"github.com/avesler/huddle/internal/app/voice"
	"github.com/avesler/huddle/internal/config"
	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/domain"
	"github.com/avesler/huddle/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		user   = flag.String("user", "", "stable user identifier (overrides config)")
		room   = flag.String("room", "", "voice channel to join on startup")
		target = flag.String("call", "", "connection id to call on startup")
		video  = flag.Bool("video", false, "enable the camera track")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	userID := domain.UserID(cfg.UserID)
	if *user != "" {
		userID = domain.UserID(*user)
	}
	if userID == "" {
		log.Fatal().Msg("no user id; pass -user or set user_id in config")
	}

	client, err := relayws.Dial(ctx, cfg.RelayURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.RelayURL).Msg("relay dial failed")
	}
	defer client.Close()

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, u := range cfg.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	devices := media.NewStaticDevices()
	factory := rtc.NewFactory(iceServers)
	controls := media.NewControls()

	calls := call.New(client, devices, factory, controls, userID)
	calls.OnStateChange(func(s call.State) {
		log.Info().Str("call_state", s.String()).Msg("call state changed")
	})
	rooms := voice.New(client, devices, factory, controls, userID)
	rooms.SetVideo(*video)
	rooms.OnParticipantJoined(func(p voice.Participant) {
		log.Info().Str("peer", string(p.Conn)).Str("user", string(p.User)).Msg("participant joined")
	})
	rooms.OnParticipantLeft(func(p voice.Participant) {
		log.Info().Str("user", string(p.User)).Msg("participant left")
	})

	// Handlers are registered; frames may flow now.
	client.Start(ctx)

	if err := client.Emit(core.JoinRoom{Type: core.EventJoinRoom, UserID: userID}); err != nil {
		log.Error().Err(err).Msg("identity announce failed")
	}

	if *room != "" {
		if err := rooms.Join(ctx, domain.RoomID(*room)); err != nil {
			log.Error().Err(err).Msg("join failed")
		}
	}
	if *target != "" {
		t := domain.CallTypeAudio
		if *video {
			t = domain.CallTypeVideo
		}
		if err := calls.StartCall(ctx, core.ConnID(*target), *target, t); err != nil {
			log.Error().Err(err).Msg("start call failed")
		}
	}

	go readCommands(ctx, cancel, calls, rooms, controls)

	<-ctx.Done()
	calls.EndCall()
	rooms.Leave()
	log.Info().Msg("bye")
}

// readCommands is a tiny stdin REPL: a=answer, e=end call, m=mute,
// v=video, l=leave room, q=quit.
func readCommands(ctx context.Context, cancel context.CancelFunc, calls *call.Coordinator, rooms *voice.Coordinator, controls *media.Controls) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch sc.Text() {
		case "a":
			if err := calls.AnswerCall(ctx); err != nil {
				log.Warn().Err(err).Msg("answer")
			}
		case "e":
			calls.EndCall()
		case "m":
			log.Info().Bool("muted", controls.ToggleMute()).Msg("mute")
		case "v":
			log.Info().Bool("video", controls.ToggleVideo()).Msg("video")
		case "l":
			rooms.Leave()
		case "q":
			cancel()
			return
		}
	}
}

package domain

// RoomID names a voice channel. Rooms are created implicitly by the
// first join and vanish with the last member; there is no room CRUD.
type RoomID string

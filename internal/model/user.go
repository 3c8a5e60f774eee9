package model

// UserID identifies a user on the chat server. The current user's ID is
// supplied by the caller at engine construction; the engine never derives it.
type UserID string

// Package model holds the domain types shared between the analytics core and its adapters.
package model

// Player is a tracked footballer. IDs are assigned by the persistence layer.
type Player struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Position    string `json:"position"`
	Nationality string `json:"nationality"`
	Team        string `json:"team"`
}

// PlayerFields is the writable part of a Player.
type PlayerFields struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Position    string `json:"position"`
	Nationality string `json:"nationality"`
	Team        string `json:"team"`
}

// Fields strips the identifier.
func (p Player) Fields() PlayerFields {
	return PlayerFields{Name: p.Name, Age: p.Age, Position: p.Position, Nationality: p.Nationality, Team: p.Team}
}

// WithID materializes fields as a player.
func (f PlayerFields) WithID(id string) Player {
	return Player{ID: id, Name: f.Name, Age: f.Age, Position: f.Position, Nationality: f.Nationality, Team: f.Team}
}

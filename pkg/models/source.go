package models

import "time"

// SourceResponse is the envelope returned by the data provider
type SourceResponse[T any] struct {
	IsSuccess bool   `json:"isSuccess"`
	Data      []T    `json:"data"`
	Message   string `json:"message"`
}

// RawProfile is a competitor record as delivered by the provider
type RawProfile struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Sport  string  `json:"sport"`
	League string  `json:"league"`
	Rank   int     `json:"rank"`
	Rating float64 `json:"rating"`
	Wins   int     `json:"wins"`
	Draws  int     `json:"draws"`
	Losses int     `json:"losses"`
}

// RawEvent is a fixture as delivered by the provider
type RawEvent struct {
	ID        string    `json:"id"`
	Sport     string    `json:"sport"`
	League    string    `json:"league"`
	StartTime time.Time `json:"start_time"`
	HomeID    string    `json:"home_id"`
	HomeName  string    `json:"home_name"`
	AwayID    string    `json:"away_id"`
	AwayName  string    `json:"away_name"`
	Status    string    `json:"status"`
}

// RawOdds is one bookmaker's market line for an event
type RawOdds struct {
	EventID   string             `json:"event_id"`
	Bookmaker string             `json:"bookmaker"`
	Market    string             `json:"market"`
	Prices    map[string]float64 `json:"prices"`
	UpdatedAt time.Time          `json:"updated_at"`
}

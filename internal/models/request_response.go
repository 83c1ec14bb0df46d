package models

import (
	"github.com/rongwang/sot-gold-tracker/internal/database"
)

// Response models
type HealthResponse struct {
	Status   string          `json:"status"`
	Database database.Status `json:"database"`
}

type UsersResponse struct {
	Status string `json:"status"`
	Users  []User `json:"users"`
}

type UserResponse struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

type GoldResponse struct {
	Status      string `json:"status"`
	DiscordID   string `json:"discordId"`
	CurrentGold int64  `json:"currentGold"`
}

type GoldHistoryResponse struct {
	Status    string      `json:"status"`
	DiscordID string      `json:"discordId"`
	History   []GoldEntry `json:"history"`
}

type LeaderboardResponse struct {
	Status  string             `json:"status"`
	Entries []LeaderboardEntry `json:"leaderboard"`
}

type SessionsResponse struct {
	Status    string    `json:"status"`
	DiscordID string    `json:"discordId"`
	Sessions  []Session `json:"sessions"`
}

type SessionResponse struct {
	Status  string  `json:"status"`
	Session Session `json:"session"`
}

type SessionStatsResponse struct {
	Status    string       `json:"status"`
	DiscordID string       `json:"discordId"`
	Stats     SessionStats `json:"stats"`
}

type TokenResponse struct {
	Status    string `json:"status"`
	Subject   string `json:"subject"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

package models

// Requests for transit HTTP endpoints.

type PredictionsRequest struct {
	Days int `query:"days" json:"days" default:"30" validate:"gte=1"`
}

type PositionsRequest struct {
	At string `query:"at" json:"at"`
}

type SeriesRequest struct {
	From   string   `query:"from" json:"from" validate:"required"`
	To     string   `query:"to" json:"to" validate:"required"`
	Step   string   `query:"step" json:"step" default:"24h"`
	Bodies []string `query:"bodies" json:"bodies"`
}

type AlertHistoryRequest struct {
	From  string `query:"from" json:"from"`
	To    string `query:"to" json:"to"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

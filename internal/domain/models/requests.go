package models

// Requests for the dashboard HTTP endpoints.

type FactorToggleRequest struct {
	Timeframe string `json:"timeframe" validate:"required,oneof=daily weekly cyclical DAILY WEEKLY CYCLICAL"`
	FactorID  string `json:"factor_id" validate:"required"`
	Enabled   bool   `json:"enabled"`
}

type PersonalBiasRequest struct {
	Direction string     `json:"direction" default:"NEUTRAL" validate:"oneof=NEUTRAL TORO URSA neutral toro ursa"`
	AppliesTo *AppliesTo `json:"applies_to,omitempty"`
}

type OverrideRequest struct {
	Direction  string `json:"direction" validate:"required"`
	Reason     string `json:"reason" validate:"max=280"`
	TTLMinutes int    `json:"ttl_minutes" default:"1440" validate:"gte=1,lte=10080"`
}

type SignalsQuery struct {
	AssetClass string `query:"asset_class" json:"asset_class" default:"EQUITY" validate:"oneof=EQUITY CRYPTO equity crypto"`
}

type DismissRequest struct {
	Reason string `json:"reason" validate:"max=280"`
}

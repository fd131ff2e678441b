package model

// Permissions — права сессии на чат, вычисленные сервером и отданные клиенту как булевы флаги.
type Permissions struct {
	View           bool `json:"view"`
	CreateChat     bool `json:"create_chat"`
	CreateChannel  bool `json:"create_channel"`
	Post           bool `json:"post"`
	Edit           bool `json:"edit"`
	Delete         bool `json:"delete"`
	ModerateVision bool `json:"moderate_vision"`
	ModerateDelete bool `json:"moderate_delete"`
}

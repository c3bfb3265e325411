package router

import "mailbot/internal/transport"

// Admin panel callback data.
const (
	cbCount     = "adm_count"
	cbCountFast = "adm_count_fast"
	cbPrune     = "adm_prune"
	cbBroadcast = "adm_mail"
	cbSettings  = "adm_settings"
	cbQuit      = "quit"
)

func adminMenu() []transport.MenuButton {
	return []transport.MenuButton{
		{Label: "Count recipients", Data: cbCount},
		{Label: "Count recipients (fast)", Data: cbCountFast},
		{Label: "Prune inactive", Data: cbPrune},
		{Label: "Make a broadcast", Data: cbBroadcast},
		{Label: "Starter message settings", Data: cbSettings},
	}
}

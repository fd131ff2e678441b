package handler

import (
	"github.com/go-chi/chi/v5"
)

// Handlers собирает обработчики моста для Mount.
type Handlers struct {
	Chat    *ChatHandler
	Message *MessageHandler
	Config  *ConfigHandler
	Prefs   *PrefsHandler
	WS      *WSHandler
}

// Mount регистрирует маршруты моста. Middleware подключает вызывающий.
func Mount(r chi.Router, h Handlers) {
	r.Get("/health", h.Config.Health)
	r.Get("/api/config/chat", h.Config.GetChatConfig)
	r.Get("/api/prefs", h.Prefs.Get)
	r.Put("/api/prefs", h.Prefs.Put)
	r.Get("/api/unread", h.Chat.Unread)
	r.Put("/api/admin-view", h.Chat.SetAdminView)
	if h.WS != nil {
		r.Get("/api/events", h.WS.ServeWS)
	}

	r.Route("/api/chats", func(r chi.Router) {
		r.Get("/", h.Chat.List)
		r.Post("/", h.Chat.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Chat.Get)
			r.Put("/", h.Chat.Edit)
			r.Post("/open", h.Chat.Open)
			r.Post("/join", h.Chat.Join)
			r.Post("/leave", h.Chat.Leave)
			r.Get("/members", h.Chat.Members)
			r.Post("/members", h.Chat.AddMembers)
			r.Delete("/members/{userId}", h.Chat.RemoveMember)
			r.Put("/role", h.Chat.SetRole)

			r.Get("/messages", h.Message.List)
			r.Get("/viewport", h.Message.Viewport)
			r.Post("/older", h.Message.Older)
			r.Post("/newer", h.Message.Newer)
			r.Post("/around", h.Message.Around)
			r.Put("/draft", h.Message.Draft)
			r.Post("/send", h.Message.Send)
			r.Post("/scroll", h.Message.Scroll)
			r.Post("/read", h.Message.Visible)
			r.Post("/messages/{msgId}/edit", h.Message.BeginEdit)
			r.Put("/edit", h.Message.SubmitEdit)
			r.Delete("/edit", h.Message.CancelEdit)
			r.Delete("/messages/{msgId}", h.Message.Delete)
			r.Post("/pending/{key}/resend", h.Message.Resend)
			r.Delete("/pending/{key}", h.Message.Discard)
		})
	})
}

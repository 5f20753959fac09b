package hub

// route dispatches one decoded message from senderID.
func (h *Hub) route(senderID string, msg Inbound) {
	switch msg.Kind {
	case KindChat:
		h.relayChat(senderID, msg)
	case KindToggleTheme:
		h.toggleTheme(senderID)
	case KindClose:
		h.explicitClose(senderID)
	default:
		// unknown messages are dropped without telling the client
		h.logger.Debug("Ignoring unrecognized message", "conn_id", senderID, "bytes", len(msg.Raw))
	}
}

// relayChat forwards the sender's payload to everyone else, then sends the
// presence list to everyone including the sender.
func (h *Hub) relayChat(senderID string, msg Inbound) {
	conns := h.registry.Snapshot()
	recipients := h.broadcast(conns, msg.Raw, senderID)

	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID)
	}
	h.broadcast(conns, presenceMessage(ids), "")

	h.logger.Debug("Chat relayed", "sender", senderID, "recipients", recipients)
	h.publish(TopicChatRelayed, senderID, ChatRelayed{Sender: senderID, Recipients: recipients})
}

func (h *Hub) toggleTheme(senderID string) {
	next := h.theme.Toggle()
	h.broadcast(h.registry.Snapshot(), themeMessage(next), "")

	h.logger.Info("Theme toggled", "conn_id", senderID, "theme", next)
	h.publish(TopicThemeChanged, senderID, ThemeChanged{ID: senderID, Theme: next})
}

package hub

// explicitClose handles a client's {"type":"close"} request.
func (h *Hub) explicitClose(id string) bool {
	return h.closeConnection(id, ReasonExplicit)
}

// channelError handles a transport that failed or vanished without a close
// message. It is the same cleanup as explicitClose.
func (h *Hub) channelError(id string) bool {
	return h.closeConnection(id, ReasonChannelError)
}

// closeConnection unregisters id, closes its channel and tells every remaining
// connection. The recipient snapshot is taken after the unregister so the
// closed id is not among them. Unknown ids are ignored.
func (h *Hub) closeConnection(id string, reason CloseReason) bool {
	conn, ok := h.registry.Unregister(id)
	if !ok {
		return false
	}
	conn.Channel.Close()

	h.broadcast(h.registry.Snapshot(), logMessage(closingNotice(id)), "")

	remaining := h.registry.Len()
	h.logger.Info("Connection closed", "conn_id", id, "reason", reason, "connections", remaining)
	h.publish(TopicConnectionClosed, id, ConnectionClosed{ID: id, Reason: reason, Remaining: remaining})
	return true
}

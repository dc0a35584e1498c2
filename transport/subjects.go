package transport

// Subject layout for the chat server. Outbound sends go through a single
// request/reply subject; server pushes arrive on per-user and
// per-conversation subjects.
// SubjectSend is the request/reply subject for message transmission
const SubjectSend = "chat.msg.send"

// SubjectNewMessages returns the subject carrying messages addressed to a user
func SubjectNewMessages(userID string) string {
	return "chat.msg.new." + userID
}

// SubjectSendErrors returns the subject carrying out-of-band send failures
// for a user's transmissions
func SubjectSendErrors(userID string) string {
	return "chat.msg.error." + userID
}

// SubjectTyping returns the subject carrying typing indicators for a
// conversation
func SubjectTyping(conversationID string) string {
	return "chat.typing." + conversationID
}

// SubjectPresence is the wildcard subject carrying presence updates for all
// users
const SubjectPresence = "chat.presence.>"

// SubjectPresenceUser returns the presence subject for one user
func SubjectPresenceUser(userID string) string {
	return "chat.presence." + userID
}

package apperr

var (
	// Wire-facing domain errors. Denials deliberately do not distinguish
	// "does not exist" from "not yours".
	ErrUnauthenticated        = Unauthorized("Unauthorized")
	ErrConversationDenied     = AccessDenied("Conversation not found or access denied")
	ErrMessageDenied          = AccessDenied("Message not found or access denied")
	ErrDeleteDenied           = AccessDenied("Message not found or you are not the sender")
	ErrConversationNotActive  = NotAllowed("Conversation is not active")
	ErrConversationIDRequired = InvalidArg("conversationId is required")
	ErrMessageIDRequired      = InvalidArg("messageId is required")
	ErrContentRequired        = InvalidArg("content is required")
	ErrContentTooLong         = InvalidArg("content is too long")
	ErrInvalidMessageType     = InvalidArg("invalid message type")
	ErrUserIDsRequired        = InvalidArg("userIds is required")
	ErrTooManyUserIDs         = InvalidArg("too many userIds")
	ErrActivityRequired       = InvalidArg("activity is required")
	ErrUserIDRequired         = InvalidArg("userId is required")
	ErrInvalidPayload         = InvalidArg("Invalid payload")
	ErrUnknownEvent           = InvalidArg("Unknown event")
)

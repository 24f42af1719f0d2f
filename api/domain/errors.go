package domain

// Error is a protocol failure. Its text is the wire kind: handlers
// render it to clients as "ERR:<Kind>". Wrapping may append detail
// after a colon, e.g. "ParticipantNotFound:<npid>".
type Error string

func (e Error) Error() string { return string(e) }

var (
	// Auth
	ErrMissingToken       = Error("MissingToken")
	ErrInvalidToken       = Error("InvalidToken")
	ErrMissingPassword    = Error("MissingPassword")
	ErrInvalidPassword    = Error("InvalidPassword")
	ErrMissingOldPassword = Error("MissingOldPassword")
	ErrMissingNewPassword = Error("MissingNewPassword")
	ErrSamePassword       = Error("SamePassword")

	// Identity
	ErrInvalidNPID  = Error("InvalidNPID")
	ErrMissingNPID  = Error("MissingNPID")
	ErrUserExists   = Error("UserExists")
	ErrUserNotFound = Error("UserNotFound")

	// Social
	ErrMissingTargetNPID   = Error("MissingTargetNPID")
	ErrAlreadyFriends      = Error("AlreadyFriends")
	ErrRequestAlreadySent  = Error("RequestAlreadySent")
	ErrNoRequestFound      = Error("NoRequestFound")
	ErrNotFriends          = Error("NotFriends")
	ErrCannotAddYourself   = Error("CannotAddYourself")
	ErrCannotBlockYourself = Error("CannotBlockYourself")
	ErrQueryTooShort       = Error("QueryTooShort")
	ErrMissingGroup        = Error("MissingGroup")
	ErrInvalidGroup        = Error("InvalidGroup")

	// Presence / polling
	ErrMissingStatus    = Error("MissingStatus")
	ErrInvalidStatus    = Error("InvalidStatus")
	ErrInvalidTimestamp = Error("InvalidTimestamp")

	// Messaging
	ErrInvalidJSON               = Error("InvalidJSON")
	ErrMissingParticipants       = Error("MissingParticipants")
	ErrInvalidParticipant        = Error("InvalidParticipant")
	ErrNotEnoughParticipants     = Error("NotEnoughParticipants")
	ErrMissingMessage            = Error("MissingMessage")
	ErrInvalidMessage            = Error("InvalidMessage")
	ErrMessageTooLong            = Error("MessageTooLong")
	ErrParticipantNotFound       = Error("ParticipantNotFound")
	ErrMissingConversationID     = Error("MissingConversationID")
	ErrEmptyConversationID       = Error("EmptyConversationID")
	ErrConversationNotFound      = Error("ConversationNotFound")
	ErrConversationAlreadyExists = Error("ConversationAlreadyExists")
	ErrNotInConversation         = Error("NotInConversation")
	ErrAlreadyInConversation     = Error("AlreadyInConversation")
	ErrMissingParticipant        = Error("MissingParticipant")
	ErrEmptyParticipant          = Error("EmptyParticipant")
	ErrMissingTimestamps         = Error("MissingTimestamps")
	ErrNoTimestamps              = Error("NoTimestamps")
	ErrNoMessagesDeleted         = Error("NoMessagesDeleted")
	ErrNotCreator                = Error("NotCreator")

	// Storage
	ErrMissingTitleID     = Error("MissingTitleID")
	ErrInvalidType        = Error("InvalidType")
	ErrInvalidID          = Error("InvalidID")
	ErrMissingFile        = Error("MissingFile")
	ErrEmptyFile          = Error("EmptyFile")
	ErrFileTooLarge       = Error("FileTooLarge")
	ErrInvalidPNG         = Error("InvalidPNG")
	ErrDimensionsTooLarge = Error("DimensionsTooLarge")
	ErrFileNotFound       = Error("FileNotFound")
	ErrQuotaExceeded      = Error("QuotaExceeded")
	ErrNoAvatar           = Error("NoAvatar")
)

// Warn is a soft status rendered as "WARN:<Kind>". Missing optional
// data is not a protocol error for the console client.
type Warn string

func (w Warn) Error() string { return string(w) }

var (
	WarnNoSavedata     = Warn("NoSavedata")
	WarnNoSavedataInfo = Warn("NoSavedataInfo")
	WarnNoTrophiesInfo = Warn("NoTrophiesInfo")
)

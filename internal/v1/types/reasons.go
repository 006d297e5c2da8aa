package types

// Error reasons form a closed set. Each is reported verbatim as a short
// string in HTTP payloads and WebSocket error frames.

// Validation.
const (
	ReasonInvalidSessionId = "invalid_session_id"
	ReasonInvalidPlayerId  = "invalid_player_id"
	ReasonInvalidUid       = "invalid_uid"
	ReasonMissingAdminRole = "missing_admin_role"
	ReasonInvalidAdminRole = "invalid_admin_role"
	ReasonInvalidAction    = "invalid_action"
)

// Authorization.
const (
	ReasonUnauthorized         = "unauthorized"
	ReasonTokenNotFound        = "token_not_found"
	ReasonSessionTokenMismatch = "session_token_mismatch"
	ReasonNotRoomOwner         = "not_room_owner"
	ReasonBootstrapOwnerLocked = "bootstrap_owner_locked"
	ReasonRoomBanned           = "room_banned"
)

// Not-found / lifecycle.
const (
	ReasonUnknownSession = "unknown_session"
	ReasonUnknownPlayer  = "unknown_player"
	ReasonSessionExpired = "session_expired"
	ReasonRoomNotFound   = "room_not_found"
	ReasonRoomCodeTaken  = "room_code_taken"
	ReasonRoomFull       = "room_full"
	ReasonRoomNotPrivate = "room_not_private"
)

// State machine.
const (
	ReasonTurnUnavailable          = "turn_unavailable"
	ReasonTurnNotActive            = "turn_not_active"
	ReasonNotYourTurn              = "not_your_turn"
	ReasonTurnActionInvalidPhase   = "turn_action_invalid_phase"
	ReasonTurnActionInvalidPayload = "turn_action_invalid_payload"
	ReasonTurnActionInvalidScore   = "turn_action_invalid_score"
	ReasonScorePointsMismatch      = "score_points_mismatch"
	ReasonScoreRollMismatch        = "score_roll_mismatch"
	ReasonTurnAdvanceFailed        = "turn_advance_failed"
	ReasonRoundInProgress          = "round_in_progress"
	ReasonNotSeated                = "not_seated"
	ReasonCannotModerateSelf       = "cannot_moderate_self"
)

// Wire.
const (
	ReasonInvalidPayload               = "invalid_payload"
	ReasonMessageTooLarge              = "message_too_large"
	ReasonClientFrameNotMasked         = "client_frame_not_masked"
	ReasonFragmentedFramesNotSupported = "fragmented_frames_not_supported"
	ReasonUnsupportedOpcode            = "unsupported_opcode"
	ReasonUnsupportedMessageType       = "unsupported_message_type"
)

// Moderation.
const (
	ReasonRoomChannelSenderRestricted = "room_channel_sender_restricted"
	ReasonRoomChannelInvalidMessage   = "room_channel_invalid_message"
	ReasonRoomChannelBlocked          = "room_channel_blocked"
	ReasonRoomChannelMessageBlocked   = "room_channel_message_blocked"
	ReasonInteractionBlocked          = "interaction_blocked"
)

package prover

// State is a proving session state
type State string

const (
	Idle                  State = "idle"
	ParsingIDDocument     State = "parsing_id_document"
	FetchingData          State = "fetching_data"
	ValidatingDocument    State = "validating_document"
	InitTEEConnexion      State = "init_tee_connexion"
	ReadyToProve          State = "ready_to_prove"
	Proving               State = "proving"
	PostProving           State = "post_proving"
	Completed             State = "completed"
	Error                 State = "error"
	Failure               State = "failure"
	PassportNotSupported  State = "passport_not_supported"
	AccountRecoveryChoice State = "account_recovery_choice"
	PassportDataNotFound  State = "passport_data_not_found"
)

// Terminal reports whether no further transition leaves the state
func (s State) Terminal() bool {
	switch s {
	case Completed, Error, Failure, PassportNotSupported, AccountRecoveryChoice, PassportDataNotFound:
		return true
	default:
		return false
	}
}

// EventType names a machine event
type EventType string

const (
	EventInit                  EventType = "INIT"
	EventParseSuccess          EventType = "PARSE_SUCCESS"
	EventParseError            EventType = "PARSE_ERROR"
	EventPassportDataNotFound  EventType = "PASSPORT_DATA_NOT_FOUND"
	EventFetchSuccess          EventType = "FETCH_SUCCESS"
	EventFetchError            EventType = "FETCH_ERROR"
	EventValidationSuccess     EventType = "VALIDATION_SUCCESS"
	EventValidationError       EventType = "VALIDATION_ERROR"
	EventPassportNotSupported  EventType = "PASSPORT_NOT_SUPPORTED"
	EventAlreadyRegistered     EventType = "ALREADY_REGISTERED"
	EventAccountRecoveryChoice EventType = "ACCOUNT_RECOVERY_CHOICE"
	EventConnectSuccess        EventType = "CONNECT_SUCCESS"
	EventConnectError          EventType = "CONNECT_ERROR"
	EventStartProving          EventType = "START_PROVING"
	EventProveSuccess          EventType = "PROVE_SUCCESS"
	EventProveError            EventType = "PROVE_ERROR"
	EventProveFailure          EventType = "PROVE_FAILURE"
	EventCompleted             EventType = "COMPLETED"

	// In-place events patch the session without leaving the state.
	EventUserConfirmed EventType = "USER_CONFIRMED"
	EventSubmitAck     EventType = "SUBMIT_ACK"
	EventStatusUpdate  EventType = "STATUS_UPDATE"
)

var transitions = map[State]map[EventType]State{
	Idle: {
		EventInit: ParsingIDDocument,
	},
	ParsingIDDocument: {
		EventParseSuccess:         FetchingData,
		EventParseError:           Error,
		EventPassportDataNotFound: PassportDataNotFound,
	},
	FetchingData: {
		EventFetchSuccess: ValidatingDocument,
		EventFetchError:   Error,
	},
	ValidatingDocument: {
		EventValidationSuccess:     InitTEEConnexion,
		EventValidationError:       Error,
		EventPassportNotSupported:  PassportNotSupported,
		EventAlreadyRegistered:     Completed,
		EventAccountRecoveryChoice: AccountRecoveryChoice,
	},
	InitTEEConnexion: {
		EventConnectSuccess: ReadyToProve,
		EventConnectError:   Error,
	},
	ReadyToProve: {
		EventStartProving:  Proving,
		EventUserConfirmed: Proving,
		EventConnectError:  Error,
		EventProveError:    Error,
	},
	Proving: {
		EventProveSuccess: PostProving,
		EventProveError:   Error,
		EventProveFailure: Failure,
	},
	PostProving: {
		EventCompleted: Completed,
	},
}

var inPlace = map[EventType]bool{
	EventUserConfirmed: true,
	EventSubmitAck:     true,
	EventStatusUpdate:  true,
}

// next returns the target of ev in s
func next(s State, ev EventType) (State, bool) {
	to, ok := transitions[s][ev]
	return to, ok
}

package wire

// ProtocolVersion is Postgres protocol 3.0 (0x00030000).
const ProtocolVersion int32 = 196608

// Frontend message tags.
const (
	PasswordTag    byte = 'p'
	SimpleQueryTag byte = 'Q'
	ParseTag       byte = 'P'
	BindTag        byte = 'B'
	ExecuteTag     byte = 'E'
	SyncTag        byte = 'S'
	TerminateTag   byte = 'X'
)

// Backend message tags.
const (
	AuthenticationTag    byte = 'R'
	ParameterStatusTag   byte = 'S'
	BackendKeyDataTag    byte = 'K'
	RowDescriptionTag    byte = 'T'
	DataRowTag           byte = 'D'
	CommandCompleteTag   byte = 'C'
	EmptyQueryTag        byte = 'I'
	ErrorResponseTag     byte = 'E'
	NoticeResponseTag    byte = 'N'
	ReadyForQueryTag     byte = 'Z'
	ParseCompleteTag     byte = '1'
	BindCompleteTag      byte = '2'
	NoDataTag            byte = 'n'
	ParameterDescTag     byte = 't'
	PortalSuspendedTag   byte = 's'
	CopyInResponseTag    byte = 'G'
	NegotiateVersionTag  byte = 'v'
	NotificationTag      byte = 'A'
)

// Authentication sub-type codes, from the first 4 bytes of an 'R' payload.
const (
	AuthCodeOk        int32 = 0
	AuthCodeCleartext int32 = 3
	AuthCodeMD5       int32 = 5
)

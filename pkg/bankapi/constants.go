package bankapi

const (
	PathLogin    = "/api/auth/login"
	PathRegister = "/api/auth/register"
	PathLogout   = "/api/auth/logout"
	PathProfile  = "/api/users/me"
	PathBalance  = "/api/users/me/balance"

	// DefaultBaseURL is used when no API address is configured.
	DefaultBaseURL = "http://localhost:5000"

	// MinimumPasswordLength mirrors the registration form rule.
	MinimumPasswordLength = 6

	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	bearerPrefix        = "Bearer "
	contentTypeJSON     = "application/json"

	defaultMaxResponseBytes int64 = 10 << 20

	operationRequest  = "request"
	operationResponse = "response"

	subjectBody       = "body"
	subjectCredential = "credential"
	subjectEndpoint   = "endpoint"
	subjectTransport  = "transport"

	codeBuild   = "build"
	codeDecode  = "decode"
	codeEncode  = "encode"
	codeLimit   = "limit"
	codeNetwork = "network"
	codeRead    = "read"
	codeInvalid = "invalid"
)

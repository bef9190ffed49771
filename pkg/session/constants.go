package session

const (
	operationRestore       = "restore"
	operationLogin         = "login"
	operationRegister      = "register"
	operationLogout        = "logout"
	operationUpdateProfile = "update_profile"

	statusOK        = "ok"
	statusError     = "error"
	statusDiscarded = "discarded"

	subjectSession = "session"

	codeStorage    = "storage"
	codeCredential = "credential"
)

package conn

// Reasons shown to clients when the server ends a connection.
const (
	ReasonInvalidPacket     = "Invalid packet received."
	ReasonRateLimited       = "You are logging in too fast, try again later."
	ReasonTooManyAccounts   = "Too many accounts from your IP address."
	ReasonServerFull        = "The server is full!"
	ReasonNameTooLong       = "Name too long."
	ReasonTransfersDisabled = "Transfers are disabled."
	ReasonInvalidEncryption = "Invalid encryption response."
	ReasonFailedVerify      = "Failed to verify username!"
	ReasonInvalidChannel    = "Invalid channel."
	ReasonInvalidKeepAlive  = "Invalid keep-alive."
	ReasonInvalidPong       = "Invalid ping response."
)

// Kick is a handler error whose Reason is sent to the client before the
// connection closes. Err, when set, is only logged.
type Kick struct {
	Reason string
	Err    error
}

func (k *Kick) Error() string {
	if k.Err != nil {
		return k.Reason + ": " + k.Err.Error()
	}
	return k.Reason
}

func (k *Kick) Unwrap() error { return k.Err }

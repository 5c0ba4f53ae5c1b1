package constants

type contextKey int

const (
	PoolKey contextKey = iota
	TxKey
	TenantIDKey
	LoggerKey
	RequestIDKey
	ParamsKey
)

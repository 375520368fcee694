package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field { return zap.String("method", v) }
func Path(v string) zap.Field { return zap.String("path", v) }
func Status(v int) zap.Field { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func Bytes(v int) zap.Field { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// Federación

// Provider identifica el proveedor de login.
func Provider(v string) zap.Field { return zap.String("provider", v) }

// PrincipalName enmascara el nombre (normalmente un email) antes de loguearlo.
func PrincipalName(v string) zap.Field { return zap.String("principal", Mask(v)) }

func ClientID(v string) zap.Field { return zap.String("client_id", v) }
func SessionID(v string) zap.Field { return zap.String("session_id", v) }

// TokenID loguea solo un prefijo del hash.
func TokenID(v string) zap.Field {
	if len(v) > 12 {
		v = v[:12]
	}
	return zap.String("token_id", v)
}

// Sistema

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field { return zap.String("op", v) }
func Layer(v string) zap.Field { return zap.String("layer", v) }
func Err(err error) zap.Field { return zap.Error(err) }
func Count(v int) zap.Field { return zap.Int("count", v) }
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }

// Mask oculta la parte local de un email: "alice@x.io" -> "a***@x.io".
func Mask(v string) string {
	at := strings.IndexByte(v, '@')
	switch {
	case v == "":
		return ""
	case at <= 0:
		if len(v) <= 2 {
			return "***"
		}
		return v[:1] + "***"
	default:
		return v[:1] + "***" + v[at:]
	}
}

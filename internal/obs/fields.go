package obs

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers keep key names consistent between packages.

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func TenantID(v string) zap.Field        { return zap.String("tenant_id", v) }
func UserID(v string) zap.Field          { return zap.String("user_id", v) }
func DeviceID(v string) zap.Field        { return zap.String("device_id", v) }
func SessionID(v string) zap.Field       { return zap.String("session_id", v) }
func ChainID(v string) zap.Field         { return zap.String("chain_id", v) }
func Module(v string) zap.Field          { return zap.String("module", v) }
func Resource(v string) zap.Field        { return zap.String("resource", v) }
func Action(v string) zap.Field          { return zap.String("action", v) }
func Reason(v string) zap.Field          { return zap.String("reason", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }
func Err(err error) zap.Field            { return zap.Error(err) }

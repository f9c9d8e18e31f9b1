package orm

// Capability 引擎可选支持的能力标识。
// 超出能力的选项由引擎忽略并记录日志，不返回错误。
type Capability string

const (
	CapabilityLocking         Capability = "locking"
	CapabilitySkipLocked      Capability = "skip_locked"
	CapabilityLockOf          Capability = "lock_of"
	CapabilityDeleteLimit     Capability = "delete_limit"
	CapabilityReturningInsert Capability = "last_insert_id"
	CapabilityTransaction     Capability = "transaction"
	CapabilityEagerLoading    Capability = "eager_loading"
)

// Capabilities 以集合形式表达引擎支持的能力。
type Capabilities map[Capability]bool

// Supports 判断是否支持指定能力。
func (c Capabilities) Supports(cap Capability) bool {
	if c == nil {
		return false
	}
	return c[cap]
}

// NewCapabilities 便捷构造能力集合。
func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, cap := range caps {
		set[cap] = true
	}
	return set
}

package firewall

import (
	"context"
	"sync"
)

// ChainInfo summarizes one live chain.
type ChainInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Hook  bool   `json:"hooked"`
	Rules int    `json:"rules"`
}

// TableInfo is what the kernel currently holds for one table.
type TableInfo struct {
	Exists bool        `json:"exists"`
	Chains []ChainInfo `json:"chains,omitempty"`
}

// Inspector reads live nftables state inside a namespace. A missing
// namespace or table is reported as Exists=false, not as an error.
type Inspector interface {
	Inspect(ctx context.Context, namespace, table string) (*TableInfo, error)
}

// MemoryInspector is an Inspector backed by a map, for tests and dry runs.
type MemoryInspector struct {
	mu     sync.Mutex
	tables map[string]*TableInfo
}

// NewMemoryInspector creates an empty MemoryInspector.
func NewMemoryInspector() *MemoryInspector {
	return &MemoryInspector{tables: make(map[string]*TableInfo)}
}

// Set records the live state of namespace/table. A nil info removes it.
func (m *MemoryInspector) Set(namespace, table string, info *TableInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info == nil {
		delete(m.tables, namespace+"/"+table)
		return
	}
	m.tables[namespace+"/"+table] = info
}

// SetFromCompiled records cc as if it had been loaded into the kernel.
func (m *MemoryInspector) SetFromCompiled(cc *CompiledConfig) {
	info := &TableInfo{Exists: true}
	for _, ch := range cc.Chains {
		info.Chains = append(info.Chains, ChainInfo{
			Name:  ch.Name,
			Type:  ch.Type,
			Hook:  ch.IsBase(),
			Rules: len(ch.Rules),
		})
	}
	m.Set(cc.Namespace, cc.Table, info)
}

func (m *MemoryInspector) Inspect(ctx context.Context, namespace, table string) (*TableInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.tables[namespace+"/"+table]; ok {
		cp := *info
		cp.Chains = append([]ChainInfo(nil), info.Chains...)
		return &cp, nil
	}
	return &TableInfo{}, nil
}

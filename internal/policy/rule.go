package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Ownership is the relation between the acting user and the targeted user.
type Ownership uint8

const (
	Unrelated Ownership = iota
	Self
	Subordinate
)

func (o Ownership) String() string {
	switch o {
	case Self:
		return "self"
	case Subordinate:
		return "subordinate"
	default:
		return "unrelated"
	}
}

// Kind tags the rule variant.
type Kind uint8

const (
	KindAllowAll Kind = iota + 1
	KindRequireRole
	KindRequireOwnership
	KindRequireRoleOrOwnership
	KindRequireRoleAndOwnership
)

func (k Kind) String() string {
	switch k {
	case KindAllowAll:
		return "AllowAll"
	case KindRequireRole:
		return "RequireRole"
	case KindRequireOwnership:
		return "RequireOwnership"
	case KindRequireRoleOrOwnership:
		return "RequireRoleOrOwnership"
	case KindRequireRoleAndOwnership:
		return "RequireRoleAndOwnership"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Rule is one allow rule. Reason is reported when the rule matches.
type Rule struct {
	Kind       Kind
	Reason     string
	Roles      []string
	Ownerships []Ownership
}

func AllowAll(reason string) Rule {
	return Rule{Kind: KindAllowAll, Reason: reason}
}

func RequireRole(reason string, roles ...string) Rule {
	return Rule{Kind: KindRequireRole, Reason: reason, Roles: roles}
}

func RequireOwnership(reason string, owns ...Ownership) Rule {
	return Rule{Kind: KindRequireOwnership, Reason: reason, Ownerships: owns}
}

// RequireRoleOrOwnership matches when the actor holds any of roles or stands
// in any of owns to the target.
func RequireRoleOrOwnership(reason string, roles []string, owns []Ownership) Rule {
	return Rule{Kind: KindRequireRoleOrOwnership, Reason: reason, Roles: roles, Ownerships: owns}
}

// RequireRoleAndOwnership needs both a role and an ownership relation.
func RequireRoleAndOwnership(reason string, roles []string, owns []Ownership) Rule {
	return Rule{Kind: KindRequireRoleAndOwnership, Reason: reason, Roles: roles, Ownerships: owns}
}

func (r Rule) needsRoles() bool {
	return r.Kind == KindRequireRole || r.Kind == KindRequireRoleOrOwnership || r.Kind == KindRequireRoleAndOwnership
}

func (r Rule) needsOwnership() bool {
	return r.Kind == KindRequireOwnership || r.Kind == KindRequireRoleOrOwnership || r.Kind == KindRequireRoleAndOwnership
}

// Entry binds the rules for one (resource, action) pair, in match order.
type Entry struct {
	Resource string
	Action   string
	Rules    []Rule
}

type compiledRule struct {
	Rule
	roles map[string]struct{}
	owns  [3]bool
}

func (c compiledRule) hasRole(roles []string) bool {
	for _, r := range roles {
		if _, ok := c.roles[r]; ok {
			return true
		}
	}
	return false
}

type key struct{ resource, action string }

// Table is the immutable rule table, validated once at startup.
type Table struct {
	rules map[key][]compiledRule
}

// ErrInvalidTable is returned by NewTable for malformed entries.
var ErrInvalidTable = errors.New("policy: invalid rule table")

// NewTable validates and compiles entries.
func NewTable(entries ...Entry) (*Table, error) {
	t := &Table{rules: make(map[key][]compiledRule, len(entries))}
	for _, e := range entries {
		if e.Resource == "" || e.Action == "" {
			return nil, fmt.Errorf("%w: entry with empty resource or action", ErrInvalidTable)
		}
		k := key{e.Resource, e.Action}
		if _, dup := t.rules[k]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %s/%s", ErrInvalidTable, e.Resource, e.Action)
		}
		if len(e.Rules) == 0 {
			return nil, fmt.Errorf("%w: %s/%s has no rules", ErrInvalidTable, e.Resource, e.Action)
		}
		compiled := make([]compiledRule, 0, len(e.Rules))
		for i, r := range e.Rules {
			c, err := compile(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s rule %d: %v", ErrInvalidTable, e.Resource, e.Action, i, err)
			}
			compiled = append(compiled, c)
		}
		t.rules[k] = compiled
	}
	return t, nil
}

// MustTable is NewTable for static tables.
func MustTable(entries ...Entry) *Table {
	t, err := NewTable(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

func compile(r Rule) (compiledRule, error) {
	if r.Kind < KindAllowAll || r.Kind > KindRequireRoleAndOwnership {
		return compiledRule{}, fmt.Errorf("unknown kind %d", r.Kind)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return compiledRule{}, errors.New("empty reason")
	}
	if isReserved(r.Reason) {
		return compiledRule{}, fmt.Errorf("reason %q is reserved", r.Reason)
	}
	c := compiledRule{Rule: r}
	if r.needsRoles() {
		if len(r.Roles) == 0 {
			return compiledRule{}, fmt.Errorf("%s needs roles", r.Kind)
		}
		c.roles = make(map[string]struct{}, len(r.Roles))
		for _, role := range r.Roles {
			if role == "" {
				return compiledRule{}, errors.New("empty role")
			}
			c.roles[role] = struct{}{}
		}
	}
	if r.needsOwnership() {
		if len(r.Ownerships) == 0 {
			return compiledRule{}, fmt.Errorf("%s needs ownerships", r.Kind)
		}
		for _, o := range r.Ownerships {
			if o != Self && o != Subordinate {
				return compiledRule{}, fmt.Errorf("ownership %s cannot grant access", o)
			}
			c.owns[o] = true
		}
	}
	return c, nil
}

func (t *Table) lookup(resource, action string) ([]compiledRule, bool) {
	rules, ok := t.rules[key{resource, action}]
	return rules, ok
}

// Rules returns the rules declared for (resource, action).
func (t *Table) Rules(resource, action string) []Rule {
	compiled, _ := t.lookup(resource, action)
	out := make([]Rule, 0, len(compiled))
	for _, c := range compiled {
		out = append(out, c.Rule)
	}
	return out
}

// Pairs lists the declared (resource, action) pairs in sorted order.
func (t *Table) Pairs() [][2]string {
	out := make([][2]string, 0, len(t.rules))
	for k := range t.rules {
		out = append(out, [2]string{k.resource, k.action})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

package model

import (
	"strings"
	"time"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldBool     FieldType = "bool"
)

// CredentialField describes one admin-configurable gateway setting.
type CredentialField struct {
	Name     string
	Type     FieldType
	Label    string
	Required bool
	Secret   bool     // never logged, encrypted at rest
	Options  []string // for FieldSelect
}

type Capabilities struct {
	SupportsOneTime     bool
	SupportsRecurring   bool
	SupportsRefunds     bool
	SupportedCurrencies []string
}

// SupportsCurrency is case-insensitive. An empty list means USD only.
func (c Capabilities) SupportsCurrency(code string) bool {
	list := c.SupportedCurrencies
	if len(list) == 0 {
		list = []string{"USD"}
	}
	for _, cur := range list {
		if strings.EqualFold(cur, code) {
			return true
		}
	}
	return false
}

type Logo struct {
	File   string
	Height string
	Width  string
}

// GatewayConfig is the static descriptor of an adapter. Fields keep declaration order
// so validation always reports the first missing field deterministically.
type GatewayConfig struct {
	Name         string
	Title        string
	Description  string
	Fields       []CredentialField
	Capabilities Capabilities
	Logo         Logo
}

// CredentialFields indexes Fields by name.
func (g GatewayConfig) CredentialFields() map[string]CredentialField {
	out := make(map[string]CredentialField, len(g.Fields))
	for _, f := range g.Fields {
		out[f.Name] = f
	}
	return out
}

// SecretFields lists the names that must be masked in logs and encrypted at rest.
func (g GatewayConfig) SecretFields() []string {
	var out []string
	for _, f := range g.Fields {
		if f.Secret {
			out = append(out, f.Name)
		}
	}
	return out
}

// PayGateway is an administrator-configured gateway instance.
type PayGateway struct {
	ID          int64
	Gateway     string // adapter name
	Title       string
	Enabled     bool
	TestMode    bool
	Credentials map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

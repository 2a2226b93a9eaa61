package model

// AnonymousUser is substituted when an evaluation context carries no user id.
const AnonymousUser = "anonymous"

// EvaluationContext carries the user attributes an evaluation or assignment is
// made against. Contexts are value types: With* and Merge return copies, so a
// client-level base context is never mutated by per-call overrides.
type EvaluationContext struct {
	UserID   string `json:"userId"`
	Country  string `json:"country,omitempty"`  // ISO-3166 alpha-2
	Language string `json:"language,omitempty"` // ISO-639

	// Attributes feeds JSON Logic targeting rules.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func NewContext(userID string) EvaluationContext {
	return EvaluationContext{UserID: userID}
}

func (c EvaluationContext) WithCountry(country string) EvaluationContext {
	c.Country = country
	return c
}

func (c EvaluationContext) WithLanguage(language string) EvaluationContext {
	c.Language = language
	return c
}

func (c EvaluationContext) WithAttribute(key string, value interface{}) EvaluationContext {
	attrs := make(map[string]interface{}, len(c.Attributes)+1)
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	c.Attributes = attrs
	return c
}

// Merge overlays the override onto c; every field set on the override wins.
func (c EvaluationContext) Merge(override EvaluationContext) EvaluationContext {
	out := c
	if override.UserID != "" {
		out.UserID = override.UserID
	}
	if override.Country != "" {
		out.Country = override.Country
	}
	if override.Language != "" {
		out.Language = override.Language
	}
	if len(override.Attributes) > 0 {
		attrs := make(map[string]interface{}, len(c.Attributes)+len(override.Attributes))
		for k, v := range c.Attributes {
			attrs[k] = v
		}
		for k, v := range override.Attributes {
			attrs[k] = v
		}
		out.Attributes = attrs
	}
	return out
}

// ResolvedUserID returns the user id, or AnonymousUser when unset.
func (c EvaluationContext) ResolvedUserID() string {
	if c.UserID == "" {
		return AnonymousUser
	}
	return c.UserID
}

// AttributeMap flattens the context into the data document JSON Logic rules
// are applied against.
func (c EvaluationContext) AttributeMap() map[string]interface{} {
	data := map[string]interface{}{
		"userId": c.ResolvedUserID(),
	}
	if c.Country != "" {
		data["country"] = c.Country
	}
	if c.Language != "" {
		data["language"] = c.Language
	}
	for k, v := range c.Attributes {
		data[k] = v
	}
	return data
}

package wsfed

import "strings"

// claimValueSeparator joins multi-valued attributes into the flat claim
// value. Values containing a literal separator stay distinguishable through
// Claim.Values.
const claimValueSeparator = ","

// ExtractClaims converts the assertion's attribute statements into a flat
// claim list. Claims appear in document order, one per attribute, with no
// deduplication; extracting the same assertion twice yields identical lists.
func ExtractClaims(a *Assertion) []Claim {
	var claims []Claim
	for _, statement := range a.Statements {
		for _, attr := range statement.Attributes {
			claims = append(claims, Claim{
				Type:   claimType(attr),
				Value:  strings.Join(attr.Values, claimValueSeparator),
				Values: append([]string(nil), attr.Values...),
			})
		}
	}
	return claims
}

// claimType joins the attribute namespace and name. SAML 2.0 attributes have
// no separate namespace; their Name already carries the full claim type.
func claimType(attr Attribute) string {
	if attr.Namespace == "" {
		return attr.Name
	}
	return attr.Namespace + "/" + attr.Name
}

// FindClaim returns the first claim with the given type, or nil.
func FindClaim(claims []Claim, claimType string) *Claim {
	for i := range claims {
		if claims[i].Type == claimType {
			return &claims[i]
		}
	}
	return nil
}

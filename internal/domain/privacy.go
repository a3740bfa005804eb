package domain

type PrivacyLevel string

const (
	PrivacyUnset   PrivacyLevel = ""
	PrivacyPublic  PrivacyLevel = "PUBLIC"
	PrivacyPrivate PrivacyLevel = "PRIVATE"
)

func (l PrivacyLevel) Valid() bool {
	return l == PrivacyPublic || l == PrivacyPrivate
}

// ComputePrivacy is PUBLIC only when every participant asked for PUBLIC.
func ComputePrivacy(participants []Participant) PrivacyLevel {
	if len(participants) == 0 {
		return PrivacyPrivate
	}
	for i := range participants {
		if participants[i].RequestedPrivacyLevel != PrivacyPublic {
			return PrivacyPrivate
		}
	}
	return PrivacyPublic
}

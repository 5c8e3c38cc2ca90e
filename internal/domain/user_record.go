package domain

// DefaultDisplayName is used when a sender has no push name or contact entry.
const DefaultDisplayName = "Cliente"

// UserRecord is one requester who passed through the greeting flow.
// JSON keys match the data file written by earlier deployments.
type UserRecord struct {
	ContactID     string   `json:"whatsapp"`
	DisplayName   string   `json:"nome"`
	Email         *string  `json:"email"`
	ChosenOptions []string `json:"opcoes_escolhidas"`
}

// NewUserRecord builds a record with an empty option list.
func NewUserRecord(contactID, displayName string) UserRecord {
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	return UserRecord{
		ContactID:     contactID,
		DisplayName:   displayName,
		ChosenOptions: []string{},
	}
}

// AppendOption records a menu choice; duplicates are kept.
func (r *UserRecord) AppendOption(option string) {
	r.ChosenOptions = append(r.ChosenOptions, option)
}

// Normalize replaces nil slices so the record never serializes options as null.
func (r *UserRecord) Normalize() {
	if r.ChosenOptions == nil {
		r.ChosenOptions = []string{}
	}
}

// FindUserRecord returns the index of the record for contactID, or -1.
func FindUserRecord(records []UserRecord, contactID string) int {
	for i := range records {
		if records[i].ContactID == contactID {
			return i
		}
	}
	return -1
}

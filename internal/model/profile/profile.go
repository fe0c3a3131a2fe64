package profile

// MedicalHistory groups the structured history fields stored per patient.
type MedicalHistory struct {
	Conditions  []string `json:"conditions"`
	Medications []string `json:"medications"`
	Allergies   []string `json:"allergies"`
	Surgeries   []string `json:"surgeries"`
	FamilyNotes string   `json:"familyNotes,omitempty"`
}

// PatientProfile is the record shape exchanged with the external profile store.
type PatientProfile struct {
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Age            *int           `json:"age,omitempty"`
	Gender         string         `json:"gender,omitempty"`
	DateOfBirth    string         `json:"date_of_birth,omitempty"`
	MedicalHistory MedicalHistory `json:"medical_history"`
	CreatedAt      string         `json:"created_at,omitempty"`
	UpdatedAt      string         `json:"updated_at,omitempty"`
}

// UpdatePatientProfile carries partial updates; nil fields are left untouched.
type UpdatePatientProfile struct {
	Name           *string         `json:"name,omitempty"`
	Age            *int            `json:"age,omitempty"`
	Gender         *string         `json:"gender,omitempty"`
	DateOfBirth    *string         `json:"date_of_birth,omitempty"`
	MedicalHistory *MedicalHistory `json:"medical_history,omitempty"`
}

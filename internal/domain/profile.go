package domain

// Role is the account role stored on the base profile.
// Immutable after registration: there is no role-change flow.
type Role string

const (
	RoleWorker Role = "worker"
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleWorker || r == RoleClient || r == RoleAdmin
}

// Profile is the base identity record common to all roles (users table).
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Phone     string `json:"phone"`
	AvatarURL string `json:"avatar_url"`
}

// WorkerProfile is the worker extension record (workers table).
// Its existence, not a flag, is what marks a worker profile as complete.
type WorkerProfile struct {
	ID                string   `json:"id"`
	CPF               string   `json:"cpf"`
	Skills            []string `json:"skills"`
	Rating            float64  `json:"rating"`
	TotalJobs         int      `json:"total_jobs"`
	DocumentsVerified bool     `json:"documents_verified"`
	IsActive          bool     `json:"is_active"`
	PixKey            string   `json:"pix_key"`
	AddressStreet     string   `json:"address_street"`
	AddressCity       string   `json:"address_city"`
	AddressState      string   `json:"address_state"`
	AddressZip        string   `json:"address_zip"`
	ApprovalStatus    string   `json:"approval_status"`
}

// ClientProfile is the client extension record (clients table).
type ClientProfile struct {
	ID          string `json:"id"`
	CNPJ        string `json:"cnpj"`
	CompanyName string `json:"company_name"`
	Address     string `json:"address"`
}

// ProfileKind is the role-specific half of a resolved profile, a variant
// over worker/client/admin. A worker or client kind with a nil extension
// record means the row is missing: the profile is incomplete, never an error.
type ProfileKind interface {
	// Complete reports whether the role-specific record gating profile
	// completeness was successfully loaded.
	Complete() bool
}

// AdminKind marks an admin profile. Admins are always complete.
type AdminKind struct{}

func (AdminKind) Complete() bool { return true }

// WorkerKind carries the worker extension record, nil when missing.
type WorkerKind struct {
	Worker *WorkerProfile
}

func (k WorkerKind) Complete() bool { return k.Worker != nil }

// ClientKind carries the client extension record, nil when missing.
type ClientKind struct {
	Client *ClientProfile
}

func (k ClientKind) Complete() bool { return k.Client != nil }

// ResolvedProfile is a base profile together with its role-tagged extension.
type ResolvedProfile struct {
	Profile Profile
	Kind    ProfileKind
}

// Complete reports the role-dependent completeness invariant:
// admins unconditionally, workers/clients iff their extension record loaded.
func (p *ResolvedProfile) Complete() bool {
	if p == nil || p.Kind == nil {
		return false
	}
	return p.Kind.Complete()
}

// WorkerRecord returns the worker extension record, nil for other roles
// or when the record is missing.
func (p *ResolvedProfile) WorkerRecord() *WorkerProfile {
	if p == nil {
		return nil
	}
	if k, ok := p.Kind.(WorkerKind); ok {
		return k.Worker
	}
	return nil
}

// ClientRecord returns the client extension record, nil for other roles
// or when the record is missing.
func (p *ResolvedProfile) ClientRecord() *ClientProfile {
	if p == nil {
		return nil
	}
	if k, ok := p.Kind.(ClientKind); ok {
		return k.Client
	}
	return nil
}

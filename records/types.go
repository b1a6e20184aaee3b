package records

// Contact is a guardian contact of a student.
type Contact struct {
	Nome  string `json:"nome" validate:"required"`
	Fone  string `json:"fone" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Student is a document of the alunos collection.
type Student struct {
	ID                   string    `json:"_id,omitempty"`
	Nome                 string    `json:"nome" validate:"required"`
	Sobrenome            string    `json:"sobrenome" validate:"required"`
	DataNascimento       string    `json:"dataNascimento" validate:"required"`
	AnoEscolar           string    `json:"anoEscolar" validate:"required"`
	Endereco             string    `json:"endereco,omitempty"`
	ContatosResponsaveis []Contact `json:"contatosResponsaveis" validate:"dive"`
	TagsAtencao          []string  `json:"tagsAtencao,omitempty"`
	Matricula            string    `json:"matricula,omitempty"`
	RA                   string    `json:"ra,omitempty"`
	CPF                  string    `json:"cpf,omitempty"`
}

// ConfirmationText is what a user types to confirm deleting the student.
func (s Student) ConfirmationText() string { return s.Nome + " " + s.Sobrenome }

// Project is an after-school (contraturno) project.
type Project struct {
	ID        string   `json:"_id,omitempty"`
	Titulo    string   `json:"titulo" validate:"required"`
	Descricao string   `json:"descricao,omitempty"`
	Alunos    []string `json:"alunos,omitempty"`
}

// ConfirmationText is what a user types to confirm deleting the project.
func (p Project) ConfirmationText() string { return p.Titulo }

// Employee is a document of the colaboradores collection.
type Employee struct {
	ID       string `json:"_id,omitempty"`
	Nome     string `json:"nome" validate:"required"`
	Cargo    string `json:"cargo,omitempty"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Telefone string `json:"telefone,omitempty"`
}

// Document is an untyped record, used for the per-student sub-collections
// whose shape the portal does not interpret.
type Document map[string]any

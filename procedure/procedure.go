package procedure

// Procedure is a named, immutable step list. Handle binds it to a handler.
type Procedure struct {
	name  string
	steps []Step
}

// New creates a procedure definition from steps, outermost first.
func New(name string, steps ...Step) *Procedure {
	return &Procedure{name: name, steps: append([]Step(nil), steps...)}
}

func (p *Procedure) Name() string {
	return p.name
}

// Steps returns a copy of the step list, outermost first.
func (p *Procedure) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Use returns a new procedure with steps appended inside the existing ones.
func (p *Procedure) Use(steps ...Step) *Procedure {
	return New(p.name, append(p.Steps(), steps...)...)
}

// Prepend returns a new procedure with steps wrapped around the existing ones.
func (p *Procedure) Prepend(steps ...Step) *Procedure {
	return New(p.name, append(append([]Step(nil), steps...), p.steps...)...)
}

// Handle wraps h in the procedure's chain.
func (p *Procedure) Handle(h Handler) Handler {
	return Chain(p.steps...)(h)
}

const (
	PublicName    = "public"
	ProtectedName = "protected"
)

// Classifier holds the two procedure definitions a server registers services
// under. Classification is fixed when a service is registered.
type Classifier struct {
	public    *Procedure
	protected *Procedure
}

type classifierOptions struct {
	checkBeforeExecute bool
}

// Option configures a Classifier.
type Option func(*classifierOptions)

// WithCheckBeforeExecute makes protected procedures validate the session
// address before the handler runs instead of after it.
func WithCheckBeforeExecute(enabled bool) Option {
	return func(o *classifierOptions) {
		o.checkBeforeExecute = enabled
	}
}

// NewClassifier builds the public and protected definitions:
//
//	public    = [LoggingStep]
//	protected = [AuthorizationStep, LoggingStep]
func NewClassifier(opts ...Option) *Classifier {
	var o classifierOptions
	for _, opt := range opts {
		opt(&o)
	}
	auth := AuthorizationStep()
	if o.checkBeforeExecute {
		auth = AuthorizationBeforeStep()
	}
	return &Classifier{
		public:    New(PublicName, LoggingStep()),
		protected: New(ProtectedName, auth, LoggingStep()),
	}
}

// Public is usable with or without a session.
func (c *Classifier) Public() *Procedure {
	return c.public
}

// Protected requires a session with a valid account address.
func (c *Classifier) Protected() *Procedure {
	return c.protected
}

var defaultClassifier = NewClassifier()

// Public returns the process-wide public procedure definition.
func Public() *Procedure {
	return defaultClassifier.Public()
}

// Protected returns the process-wide protected procedure definition.
func Protected() *Procedure {
	return defaultClassifier.Protected()
}

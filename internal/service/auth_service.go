package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/domain/session"
	"github.com/lookym/authgate/internal/port/inbound"
	"github.com/lookym/authgate/internal/port/outbound"
)

const instrumentationName = "github.com/lookym/authgate/internal/service"

// Operation names used in errors, logs, spans and metrics.
const (
	OpSignIn  = "sign_in"
	OpSignUp  = "sign_up"
	OpSignOut = "sign_out"
)

// SignOutPolicy decides what happens to local state when the provider
// rejects a sign-out.
type SignOutPolicy string

const (
	// SignOutRetain keeps the local session, so the UI never claims a
	// sign-out the provider did not perform.
	SignOutRetain SignOutPolicy = "retain"
	// SignOutClear clears the local session anyway.
	SignOutClear SignOutPolicy = "clear"
)

// OperationRecorder records the outcome of each auth operation.
type OperationRecorder interface {
	ObserveOperation(op, result string, duration time.Duration)
}

// AuthServiceOption configures an AuthService.
type AuthServiceOption func(*AuthService)

// WithSignOutPolicy sets the sign-out failure policy. Default: SignOutRetain.
func WithSignOutPolicy(p SignOutPolicy) AuthServiceOption {
	return func(s *AuthService) {
		if p != "" {
			s.signOutPolicy = p
		}
	}
}

// WithOperationRecorder sets the metrics sink for operations.
func WithOperationRecorder(r OperationRecorder) AuthServiceOption {
	return func(s *AuthService) {
		s.recorder = r
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) AuthServiceOption {
	return func(s *AuthService) {
		s.tracer = t
	}
}

// WithMeter overrides the meter taken from the global provider.
func WithMeter(m metric.Meter) AuthServiceOption {
	return func(s *AuthService) {
		s.meter = m
	}
}

// credentials is validated before any provider call.
type credentials struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

// AuthService translates user intent into provider calls and reports the
// outcome to the session store. It does not serialize calls; concurrent
// operations are ordered by the store.
type AuthService struct {
	client        outbound.AuthClient
	store         *session.Store
	logger        *slog.Logger
	validate      *validator.Validate
	tracer        trace.Tracer
	recorder      OperationRecorder
	signOutPolicy SignOutPolicy

	meter       metric.Meter
	opCounter   metric.Int64Counter
	opDurations metric.Float64Histogram
}

// NewAuthService creates a new AuthService.
func NewAuthService(client outbound.AuthClient, store *session.Store, logger *slog.Logger, opts ...AuthServiceOption) *AuthService {
	s := &AuthService{
		client:        client,
		store:         store,
		logger:        logger,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		tracer:        otel.Tracer(instrumentationName),
		meter:         otel.Meter(instrumentationName),
		signOutPolicy: SignOutRetain,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initInstruments()
	return s
}

func (s *AuthService) initInstruments() {
	var err error
	s.opCounter, err = s.meter.Int64Counter("authgate.operations",
		metric.WithDescription("Auth operations by name and result"))
	if err != nil {
		s.logger.Warn("failed to create operation counter", "error", err)
	}
	s.opDurations, err = s.meter.Float64Histogram("authgate.operation.duration",
		metric.WithDescription("Auth operation duration"),
		metric.WithUnit("s"))
	if err != nil {
		s.logger.Warn("failed to create operation histogram", "error", err)
	}
}

// SignIn authenticates with email and password.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*auth.User, error) {
	return s.authenticate(ctx, OpSignIn, email, password, s.client.SignInWithPassword)
}

// SignUp registers a new account. A duplicate account is reported as
// auth.ErrAlreadyRegistered. When the provider issues no session yet the
// user is returned and the auth state is left as it was.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (*auth.User, error) {
	return s.authenticate(ctx, OpSignUp, email, password, s.client.SignUp)
}

type grantFunc func(ctx context.Context, email, password string) (*auth.Grant, error)

func (s *AuthService) authenticate(ctx context.Context, op, email, password string, call grantFunc) (user *auth.User, err error) {
	ctx, span := s.tracer.Start(ctx, "authgate."+op)
	start := time.Now()
	defer func() { s.finish(span, op, start, err) }()

	email = strings.TrimSpace(email)
	if err := s.validateCredentials(op, email, password); err != nil {
		return nil, err
	}

	ticket := s.store.Ticket()
	grant, callErr := call(ctx, email, password)
	if callErr == nil && (grant == nil || grant.User.ID == "") {
		callErr = auth.NewError(op, auth.KindProviderFailure, "provider returned no user", nil)
	}
	if callErr != nil {
		aerr := normalize(op, callErr)
		s.report(ctx, session.Failed(aerr).WithTicket(ticket))
		return nil, aerr
	}

	if grant.Session == nil {
		s.logger.Info("account accepted without a session", "op", op, "user_id", grant.User.ID)
	}
	s.report(ctx, session.SignedIn(grant.Session).WithTicket(ticket))

	u := grant.User
	return &u, nil
}

// SignOut ends the session. Signing out while already signed out is a
// no-op and does not contact the provider.
func (s *AuthService) SignOut(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "authgate."+OpSignOut)
	start := time.Now()
	defer func() { s.finish(span, OpSignOut, start, err) }()

	if s.store.State().Status == auth.StatusUnauthenticated {
		s.logger.Debug("sign-out skipped, already signed out")
		return nil
	}

	ticket := s.store.Ticket()
	if callErr := s.client.SignOut(ctx); callErr != nil {
		aerr := normalize(OpSignOut, callErr)
		if s.signOutPolicy == SignOutClear {
			s.logger.Warn("provider sign-out failed, clearing local session", "error", aerr)
			s.report(ctx, session.SignedOut().WithTicket(ticket))
		} else {
			s.report(ctx, session.Failed(aerr).WithTicket(ticket))
		}
		return aerr
	}

	s.report(ctx, session.SignedOut().WithTicket(ticket))
	return nil
}

// report hands a result to the store. The provider call has already
// happened, so the write is not tied to the caller's cancellation.
func (s *AuthService) report(ctx context.Context, r session.LocalResult) {
	if _, err := s.store.ApplyLocalResult(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Warn("failed to apply auth result", "result", r.Kind.String(), "error", err)
	}
}

func (s *AuthService) finish(span trace.Span, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(auth.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		s.logger.Info("auth operation failed", "op", op, "kind", result, "error", err)
	} else {
		s.logger.Debug("auth operation succeeded", "op", op)
	}
	span.SetAttributes(attribute.String("authgate.result", result))
	span.End()

	elapsed := time.Since(start)
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("result", result))
	// Use a background context: the caller's may already be cancelled.
	if s.opCounter != nil {
		s.opCounter.Add(context.Background(), 1, attrs)
	}
	if s.opDurations != nil {
		s.opDurations.Record(context.Background(), elapsed.Seconds(), attrs)
	}
	if s.recorder != nil {
		s.recorder.ObserveOperation(op, result, elapsed)
	}
}

func (s *AuthService) validateCredentials(op, email, password string) error {
	err := s.validate.Struct(credentials{Email: email, Password: password})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return auth.NewError(op, auth.KindInvalidInput, "", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return auth.NewError(op, auth.KindInvalidInput, strings.Join(msgs, "; "), nil)
}

// normalize converts any provider error into an *auth.Error for op.
func normalize(op string, err error) *auth.Error {
	var aerr *auth.Error
	if errors.As(err, &aerr) {
		if aerr.Op == op {
			return aerr
		}
		return auth.NewError(op, aerr.Kind, aerr.Message, aerr.Err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return auth.NewError(op, auth.KindNetworkFailure, "request cancelled or timed out", err)
	}
	return auth.NewError(op, auth.KindProviderFailure, "", err)
}

var _ inbound.AuthOperations = (*AuthService)(nil)

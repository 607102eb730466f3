package errors

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Structured Errors", func() {
	Describe("AppError", func() {
		Context("basic error creation", func() {
			It("should create error with correct properties", func() {
				err := New(ErrorTypeValidation, "test message")

				Expect(err.Type).To(Equal(ErrorTypeValidation))
				Expect(err.Message).To(Equal("test message"))
				Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(err.Details).To(BeEmpty())
				Expect(err.Cause).To(BeNil())
			})

			It("should implement error interface correctly", func() {
				err := New(ErrorTypeValidation, "test message")
				Expect(err.Error()).To(Equal("validation: test message"))
			})

			It("should include details in error string when present", func() {
				err := New(ErrorTypeValidation, "test message").WithDetails("extra info")
				Expect(err.Error()).To(Equal("validation: test message (extra info)"))
			})
		})

		Context("error wrapping", func() {
			It("should wrap underlying error", func() {
				originalErr := errors.New("original error")
				wrappedErr := Wrap(originalErr, ErrorTypeDatabase, "operation failed")

				Expect(wrappedErr.Type).To(Equal(ErrorTypeDatabase))
				Expect(wrappedErr.Cause).To(Equal(originalErr))
				Expect(wrappedErr.Unwrap()).To(Equal(originalErr))
			})

			It("should format wrapped error with arguments", func() {
				originalErr := errors.New("connection refused")
				wrappedErr := Wrapf(originalErr, ErrorTypeNetwork, "failed to connect to %s:%d", "db.internal", 5432)
				Expect(wrappedErr.Message).To(Equal("failed to connect to db.internal:5432"))
			})
		})

		Context("adding details", func() {
			It("should modify in place and return the same pointer", func() {
				err := New(ErrorTypeAuth, "authentication failed")
				detailedErr := err.WithDetails("invalid token")

				Expect(detailedErr.Details).To(Equal("invalid token"))
				Expect(detailedErr).To(BeIdenticalTo(err))
			})
		})
	})

	Describe("HTTP status code mapping", func() {
		It("should map error types to the codes in §5 of SPEC_FULL", func() {
			cases := []struct {
				errorType  ErrorType
				statusCode int
			}{
				{ErrorTypeValidation, http.StatusBadRequest},
				{ErrorTypeUnknownEnvironment, http.StatusBadRequest},
				{ErrorTypeUnknownStrategy, http.StatusBadRequest},
				{ErrorTypeNotFound, http.StatusNotFound},
				{ErrorTypeLockTimeout, http.StatusConflict},
				{ErrorTypeApprovalRejected, http.StatusUnprocessableEntity},
				{ErrorTypeApprovalExpired, http.StatusUnprocessableEntity},
				{ErrorTypeStrategyFailure, http.StatusInternalServerError},
			}
			for _, tc := range cases {
				err := New(tc.errorType, "test")
				Expect(err.StatusCode).To(Equal(tc.statusCode))
			}
		})
	})

	Describe("predefined constructors", func() {
		It("builds a lock-timeout error naming the resource", func() {
			err := NewLockTimeoutError("deploy:Production:auth")
			Expect(err.Type).To(Equal(ErrorTypeLockTimeout))
			Expect(err.Message).To(ContainSubstring("deploy:Production:auth"))
		})

		It("builds a database error wrapping the cause", func() {
			cause := errors.New("connection lost")
			err := NewDatabaseError("insert deployment_jobs", cause)
			Expect(err.Message).To(ContainSubstring("insert deployment_jobs"))
			Expect(err.Cause).To(Equal(cause))
		})
	})

	Describe("error type checking", func() {
		It("identifies AppError types and falls back for plain errors", func() {
			validationErr := NewValidationError("bad input")
			Expect(IsType(validationErr, ErrorTypeValidation)).To(BeTrue())
			Expect(IsType(validationErr, ErrorTypeAuth)).To(BeFalse())

			regularErr := errors.New("boom")
			Expect(IsType(regularErr, ErrorTypeValidation)).To(BeFalse())
			Expect(GetType(regularErr)).To(Equal(ErrorTypeInternal))
			Expect(GetStatusCode(regularErr)).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("safe error messages", func() {
		It("passes validation messages through but hides everything else", func() {
			Expect(SafeErrorMessage(NewValidationError("bad module name"))).To(Equal("bad module name"))
			Expect(SafeErrorMessage(New(ErrorTypeDatabase, "leaked internal detail"))).To(Equal("An internal error occurred"))
			Expect(SafeErrorMessage(errors.New("panic"))).To(Equal("An unexpected error occurred"))
		})
	})

	Describe("logging fields", func() {
		It("includes details and the underlying error when present", func() {
			appErr := Wrapf(errors.New("connection failed"), ErrorTypeDatabase, "query failed").
				WithDetails("table: deployment_jobs")

			fields := LogFields(appErr)
			Expect(fields["error_type"]).To(Equal("database"))
			Expect(fields["error_details"]).To(Equal("table: deployment_jobs"))
			Expect(fields["underlying_error"]).To(Equal("connection failed"))
		})

		It("omits optional keys when absent", func() {
			fields := LogFields(NewValidationError("bad input"))
			Expect(fields).NotTo(HaveKey("error_details"))
			Expect(fields).NotTo(HaveKey("underlying_error"))
		})
	})

	Describe("error chaining", func() {
		It("returns nil for no errors, unwraps a single error, joins many", func() {
			Expect(Chain()).To(BeNil())

			single := errors.New("single")
			Expect(Chain(single)).To(Equal(single))

			chained := Chain(errors.New("first"), nil, errors.New("second"))
			Expect(chained.Error()).To(ContainSubstring("first"))
			Expect(chained.Error()).To(ContainSubstring("second"))
			Expect(chained.Error()).To(ContainSubstring(" -> "))
		})
	})
})

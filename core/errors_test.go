package core

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	mapped := serviceErrorMapper(stderrors.New("core: topic is required"))
	if mapped.TextCode != ErrorCodeBadInput {
		t.Fatalf("expected bad input text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", mapped.Code)
	}

	mapped = serviceErrorMapper(stderrors.New("boom"))
	if mapped.TextCode == "" || mapped.Code == 0 {
		t.Fatalf("expected envelope defaults, got %+v", mapped)
	}
}

func TestDomainErrors_CarryCategoryAndMetadata(t *testing.T) {
	err := NewDispatchError(stderrors.New("bus down"), DispatchStats{Attempted: 3, Delivered: 2, Failed: 1})
	if err.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", err.Category)
	}
	if err.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", err.Code)
	}
	if err.Metadata["failed"] != 1 || err.Metadata["attempted"] != 3 {
		t.Fatalf("expected stats metadata, got %v", err.Metadata)
	}

	validation := NewValidationError(stderrors.New("bad shape"), "state.json")
	if validation.Category != goerrors.CategoryValidation || validation.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected validation envelope %+v", validation)
	}
}

func TestErrorPredicates_SeeThroughJoin(t *testing.T) {
	joined := stderrors.Join(
		NewDispatchError(stderrors.New("bus down"), DispatchStats{Attempted: 1, Failed: 1}),
		NewPersistError(stderrors.New("disk full"), "state.json"),
	)
	if !IsDispatchError(joined) || !IsPersistError(joined) {
		t.Fatalf("expected both predicates to match joined error")
	}
	if IsSourceFetchError(joined) || IsValidationError(joined) {
		t.Fatalf("expected unrelated predicates to miss")
	}
	if IsDispatchError(nil) {
		t.Fatalf("expected nil to match nothing")
	}
}

func TestServiceLoadState_MapsMissingStoreToBadInput(t *testing.T) {
	svc, err := NewService(Config{Topic: "pages"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.LoadState(context.Background())
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if rich.TextCode != ErrorCodeBadInput {
		t.Fatalf("expected bad input text code, got %q", rich.TextCode)
	}
}

func TestDomainErrors_KeepOwnCategoryOverEnvelopeCause(t *testing.T) {
	inner := goerrors.New("transport: encode listing request", goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeBadInput)

	fetch := NewSourceFetchError(inner, 3)
	if fetch.Category != goerrors.CategoryExternal || fetch.Code != http.StatusBadGateway {
		t.Fatalf("expected external/502, got %s/%d", fetch.Category, fetch.Code)
	}
	if fetch.TextCode != ErrorCodeSourceFetch {
		t.Fatalf("expected source fetch text code, got %q", fetch.TextCode)
	}
	if !stderrors.Is(fetch, inner) {
		t.Fatalf("expected inner envelope to stay in the chain")
	}

	persist := NewPersistError(inner, "pages/state.json")
	if persist.Category != goerrors.CategoryInternal || persist.TextCode != ErrorCodePersist {
		t.Fatalf("expected internal persist envelope, got %s/%s", persist.Category, persist.TextCode)
	}
}

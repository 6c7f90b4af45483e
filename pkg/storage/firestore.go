package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Documents are stored as JSON strings for portability.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) accountCollection(accountID, name string) (*firestore.CollectionRef, error) {
	if accountID == "" {
		return nil, fmt.Errorf("accountID cannot be empty")
	}
	return f.client.Collection("accounts").Doc(accountID).Collection(name), nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	version := docVersion(doc)

	var s types.Settings
	if err := unmarshalDoc(ctx, doc, &s); err != nil {
		return types.Settings{}, 0, err
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = f.client.Collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// CreateAccount creates a new account document in the "accounts" collection.
func (f *FirestoreProvider) CreateAccount(ctx context.Context, account types.Account) error {
	if account.ID == "" {
		return fmt.Errorf("account missing id")
	}
	jsonBytes, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", account.ID, err)
	}
	_, err = f.client.Collection("accounts").Doc(account.ID).Create(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": account.CreatedAt,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrAccountExists, account.ID)
		}
		return fmt.Errorf("failed to create account %s: %w", account.ID, err)
	}
	return nil
}

// UpdateAccount updates an existing account document.
func (f *FirestoreProvider) UpdateAccount(ctx context.Context, account types.Account) error {
	if account.ID == "" {
		return fmt.Errorf("account missing id")
	}
	jsonBytes, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", account.ID, err)
	}
	_, err = f.client.Collection("accounts").Doc(account.ID).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", account.ID, err)
	}
	return nil
}

// GetAccount retrieves an account from the "accounts" collection.
func (f *FirestoreProvider) GetAccount(ctx context.Context, accountID string) (types.Account, error) {
	doc, err := f.client.Collection("accounts").Doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return types.Account{}, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}

	var account types.Account
	if err := unmarshalDoc(ctx, doc, &account); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// ListAccounts retrieves all accounts from the "accounts" collection.
func (f *FirestoreProvider) ListAccounts(ctx context.Context) ([]types.Account, error) {
	iter := f.client.Collection("accounts").Documents(ctx)
	defer iter.Stop()

	var accounts []types.Account
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating accounts: %w", err)
		}

		var account types.Account
		if err := unmarshalDoc(ctx, doc, &account); err != nil {
			// Skip malformed documents
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed account doc", slog.String("accountID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// UpsertMember stores the latest member snapshot for the account under the
// "data/member" document.
func (f *FirestoreProvider) UpsertMember(ctx context.Context, accountID string, member types.Member, version int) error {
	jsonBytes, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}

	coll, err := f.accountCollection(accountID, "data")
	if err != nil {
		return err
	}
	_, err = coll.Doc("member").Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": member.FetchedAt,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// GetMember retrieves the latest member snapshot for the account.
func (f *FirestoreProvider) GetMember(ctx context.Context, accountID string) (types.Member, int, error) {
	coll, err := f.accountCollection(accountID, "data")
	if err != nil {
		return types.Member{}, 0, err
	}
	doc, err := coll.Doc("member").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Member{}, 0, fmt.Errorf("%w: %s", ErrMemberNotFound, accountID)
		}
		return types.Member{}, 0, fmt.Errorf("failed to get member for account %s: %w", accountID, err)
	}

	version := docVersion(doc)

	var member types.Member
	if err := unmarshalDoc(ctx, doc, &member); err != nil {
		return types.Member{}, 0, err
	}
	return member, version, nil
}

// SetLogbook replaces the stored logbook for the account. Entries are keyed
// by their entry ID so re-stores are idempotent; entries that disappeared
// from the platform are deleted.
func (f *FirestoreProvider) SetLogbook(ctx context.Context, accountID string, entries []types.LogbookEntry, version int) error {
	coll, err := f.accountCollection(accountID, "logbook")
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.EntryID == "" {
			return fmt.Errorf("logbook entry missing id")
		}
		keep[e.EntryID] = true

		jsonBytes, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal logbook entry %s: %w", e.EntryID, err)
		}
		_, err = coll.Doc(e.EntryID).Set(ctx, map[string]interface{}{
			"json":    string(jsonBytes),
			"version": version,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert logbook entry %s: %w", e.EntryID, err)
		}
	}

	// remove entries no longer present on the platform
	iter := coll.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("error iterating logbook entries: %w", err)
		}
		if keep[doc.Ref.ID] {
			continue
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete stale logbook entry %s: %w", doc.Ref.ID, err)
		}
	}
	return nil
}

// GetLogbook retrieves the stored logbook entries for the account.
func (f *FirestoreProvider) GetLogbook(ctx context.Context, accountID string) ([]types.LogbookEntry, error) {
	coll, err := f.accountCollection(accountID, "logbook")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var entries []types.LogbookEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating logbook entries: %w", err)
		}

		var e types.LogbookEntry
		if err := unmarshalDoc(ctx, doc, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// docVersion reads the integer version field from a doc (default 0).
func docVersion(doc *firestore.DocumentSnapshot) int {
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}

// unmarshalDoc decodes the "json" field of a doc into dest.
func unmarshalDoc(ctx context.Context, doc *firestore.DocumentSnapshot, dest interface{}) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}

	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("docID", doc.Ref.ID), slog.Any("error", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

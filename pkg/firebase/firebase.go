package firebase

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/anonto42/chyrp-lite/backend/pkg/config"
)

// App holds the initialized Firebase app and the service clients derived from it.
type App struct {
	FirebaseApp *firebase.App
	AuthClient  *auth.Client
	Firestore   *firestore.Client
	// Bucket is nil when no storage bucket is configured.
	Bucket     *gcs.BucketHandle
	BucketName string
}

// InitFirebase initializes the Firebase application and the auth, Firestore and
// Cloud Storage clients.
func InitFirebase(ctx context.Context, cfg config.FirebaseConfig) (*App, error) {
	if cfg.CredentialsPath == "" {
		return nil, fmt.Errorf("firebase credentials path not provided")
	}

	if _, err := os.Stat(cfg.CredentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("firebase credentials file not found at %s", cfg.CredentialsPath)
	}

	opt := option.WithCredentialsFile(cfg.CredentialsPath)
	appConfig := &firebase.Config{
		ProjectID:     cfg.ProjectID,
		StorageBucket: cfg.StorageBucket,
	}

	firebaseApp, err := firebase.NewApp(ctx, appConfig, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase auth client: %w", err)
	}

	firestoreClient, err := firebaseApp.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}

	app := &App{
		FirebaseApp: firebaseApp,
		AuthClient:  authClient,
		Firestore:   firestoreClient,
	}

	if cfg.StorageBucket != "" {
		storageClient, err := firebaseApp.Storage(ctx)
		if err != nil {
			_ = firestoreClient.Close()
			return nil, fmt.Errorf("error getting storage client: %w", err)
		}
		bucket, err := storageClient.DefaultBucket()
		if err != nil {
			_ = firestoreClient.Close()
			return nil, fmt.Errorf("error opening storage bucket: %w", err)
		}
		app.Bucket = bucket
		app.BucketName = cfg.StorageBucket
	}

	log.Info().Str("project", cfg.ProjectID).Msg("Firebase app, auth, firestore and storage clients initialized")
	return app, nil
}

// Close releases the Firestore client.
func (a *App) Close() {
	if a.Firestore != nil {
		if err := a.Firestore.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Firestore client")
		}
	}
}

// Command storage-init provisions the Azure table and queue the server
// writes its activity log and event export to. Existing resources are left
// untouched.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

type initConfig struct {
	ConnectionString string `env:"STORAGE_CONNECTION_STRING,required"`
	ActivityTable    string `env:"ACTIVITY_TABLE"`
	EventExportQueue string `env:"EVENT_EXPORT_QUEUE"`
	Debug            bool   `env:"DEBUG"`
}

func main() {
	cfg, err := env.ParseAs[initConfig]()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if cfg.ActivityTable != "" {
		if err := createTable(ctx, cfg.ConnectionString, cfg.ActivityTable); err != nil {
			log.Fatalf("create table %s: %v", cfg.ActivityTable, err)
		}
	}
	if cfg.EventExportQueue != "" {
		if err := createQueue(ctx, cfg.ConnectionString, cfg.EventExportQueue); err != nil {
			log.Fatalf("create queue %s: %v", cfg.EventExportQueue, err)
		}
	}

	log.Info("storage init complete")
}

func createTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	if alreadyExists(err, string(aztables.TableAlreadyExists)) {
		log.WithField("table", name).Debug("table exists")
		return nil
	}
	return err
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	if alreadyExists(err, "QueueAlreadyExists") {
		log.WithField("queue", name).Debug("queue exists")
		return nil
	}
	return err
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}

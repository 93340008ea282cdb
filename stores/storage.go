package stores

import (
	"os"

	"github.com/sirupsen/logrus"

	"sketchboard-server/core"
	"sketchboard-server/stores/aws"
	"sketchboard-server/stores/filesystem"
	"sketchboard-server/stores/memory"
	"sketchboard-server/stores/mongodb"
	"sketchboard-server/stores/postgres"
	"sketchboard-server/stores/sqlite"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.BoardStore
	core.ShareStore
}

func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data" // Default path
		}
		storageField["basePath"] = basePath
		store = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "sketchboard.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	case "postgres":
		// Connection strings carry credentials, so they stay out of the log.
		connString := os.Getenv("DATABASE_URL")
		if connString == "" {
			logrus.Fatal("DATABASE_URL environment variable must be set for postgres storage type")
		}
		store = postgres.NewStore(connString)
	case "mongodb":
		uri := os.Getenv("MONGODB_URI")
		if uri == "" {
			logrus.Fatal("MONGODB_URI environment variable must be set for mongodb storage type")
		}
		databaseName := os.Getenv("MONGODB_DATABASE")
		if databaseName == "" {
			databaseName = "sketchboard"
		}
		storageField["database"] = databaseName
		store = mongodb.NewStore(uri, databaseName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewStore(bucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

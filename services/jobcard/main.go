// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/jobcard/core/access"
	"github.com/relabs-tech/jobcard/core/backend"
	"github.com/relabs-tech/jobcard/core/backend/kss"
	"github.com/relabs-tech/jobcard/core/csql"
	"github.com/relabs-tech/jobcard/core/jobcard"
	"github.com/relabs-tech/jobcard/core/logger"
	"github.com/relabs-tech/jobcard/core/messaging"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=docker" description:"password to the Postgres DB"`
	Port             string `env:"PORT,default=3000" description:"the port to listen on"`
	PublicURL        string `env:"PUBLIC_URL,default=http://localhost:3000" description:"the public URL of this service"`

	JwtPublicKeyDownloadURL string `env:"JWT_PUBLIC_KEY_DOWNLOAD_URL" description:"the download url for JWT public keys"`
	JwtIssuer               string `env:"JWT_ISSUER" description:"the accepted JWT issuer"`
	BackdoorToken           string `env:"BACKDOOR_TOKEN" description:"development admin token, off when empty"`

	KafkaBrokers string `env:"KAFKA_BROKERS" description:"comma separated Kafka brokers for notifications, off when empty"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=notifications" description:"the Kafka topic for notifications"`

	SQSQueueURL  string `env:"SQS_QUEUE_URL" description:"the SQS queue for customer messages, log only when empty"`
	AWSRegion    string `env:"AWS_REGION,default=eu-central-1"`
	AWSAccessID  string `env:"AWS_ACCESS_ID"`
	AWSAccessKey string `env:"AWS_ACCESS_KEY"`
	S3Bucket     string `env:"S3_BUCKET" description:"the S3 bucket for attachments, local storage when empty"`
	LocalStorage string `env:"LOCAL_STORAGE,default=/tmp/jobcard-files" description:"base path for local attachment storage"`
}

func main() {
	logger.InitLogger(logrus.InfoLevel)
	nillog := logger.Default()

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "jobcard")
	defer db.Close()

	kssConfiguration := kss.Configuration{
		DriverType:         kss.DriverTypeLocal,
		LocalConfiguration: &kss.LocalConfiguration{BasePath: service.LocalStorage},
	}
	if service.S3Bucket != "" {
		kssConfiguration = kss.Configuration{
			DriverType: kss.DriverTypeAWSS3,
			S3Configuration: &kss.S3Configuration{
				AccessID:      service.AWSAccessID,
				AccessKey:     service.AWSAccessKey,
				AWSRegion:     service.AWSRegion,
				AWSBucketName: service.S3Bucket,
				KeyPrefix:     "jobcard",
			},
		}
	}

	var kafkaBrokers []string
	if service.KafkaBrokers != "" {
		kafkaBrokers = strings.Split(service.KafkaBrokers, ",")
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)

	b := backend.New(&backend.Builder{
		Config:               jobcard.ResourceConfiguration,
		JSONSchemas:          jobcard.JSONSchemas(),
		DB:                   db,
		Router:               router,
		PublicURL:            service.PublicURL,
		AuthorizationEnabled: true,
		UpdateSchema:         true,
		KssConfiguration:     kssConfiguration,
		KafkaBrokers:         kafkaBrokers,
		KafkaTopic:           service.KafkaTopic,
	})

	if service.JwtPublicKeyDownloadURL != "" {
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			PublicKeyDownloadURL: service.JwtPublicKeyDownloadURL,
			Issuer:               service.JwtIssuer,
			DB:                   db,
		}))
	}
	if service.BackdoorToken != "" {
		nillog.Warning("backdoor token enabled")
		router.Use(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{
			Backdoors: map[string]access.Authorization{
				service.BackdoorToken: {Roles: []string{"admin"}},
			},
		}))
	}

	var dispatcher messaging.Dispatcher
	if service.SQSQueueURL != "" {
		var err error
		dispatcher, err = messaging.NewSQSDispatcher(messaging.SQSConfiguration{
			QueueURL:  service.SQSQueueURL,
			AWSRegion: service.AWSRegion,
			AccessID:  service.AWSAccessID,
			AccessKey: service.AWSAccessKey,
		})
		if err != nil {
			panic(err)
		}
	}

	jobcard.New(&jobcard.Builder{
		Backend:    b,
		Dispatcher: dispatcher,
	})

	nillog.Infoln("listen on port :" + service.Port)
	if err := http.ListenAndServe(":"+service.Port, router); err != nil {
		nillog.WithError(err).Fatal("server stopped")
	}
}

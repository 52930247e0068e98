// Package kss stores large companion files outside of the database.
// There are currently two possible backends: a local file system and AWS S3.
package kss

import "time"

// Method is the HTTP method a pre-signed URL is valid for
type Method string

// Get authorizes a download
const Get Method = "GET"

// Put authorizes an upload
const Put Method = "PUT"

// Driver defines the interface for the companion file service
type Driver interface {
	GetPreSignedURL(method Method, key string, expireIn time.Duration) (URL string, err error)
	UploadData(key string, data []byte) error
	Delete(key string) error
	DeleteAllWithPrefix(key string) error
}

// DriverType represents the different type of KSS drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no KSS implementation
const None DriverType = ""

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the AWS S3 KSS service
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSRegion     string
	AWSBucketName string
	KeyPrefix     string
}

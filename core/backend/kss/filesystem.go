package kss

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/jobcard/core/logger"
)

// LocalFilesystem is the entity which provides local filesystem storage
type LocalFilesystem struct {
	router     *mux.Router
	baseFolder string
	publicURL  url.URL
	privateKey *rsa.PrivateKey
}

// NewLocalFilesystem returns a new LocalFilesystem
func NewLocalFilesystem(router *mux.Router, baseFolder string, publicURL url.URL, privateKey *rsa.PrivateKey) (*LocalFilesystem, error) {
	if privateKey == nil {
		logger.Default().Warn("No private key provided to sign URLs, a random one will be generated")
		logger.Default().Warn("This can only work when running in a single instance configuration")

		var err error
		privateKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
	}
	f := LocalFilesystem{router: router, baseFolder: baseFolder, publicURL: publicURL, privateKey: privateKey}
	f.configure()
	return &f, nil
}

func (f LocalFilesystem) configure() {
	logger.Default().Debugln("filesystem routes enabled")
	logger.Default().Debugln("  handle file route: /jobcard/filesystem GET,PUT,POST")

	f.router.Handle("/jobcard/filesystem", http.HandlerFunc(f.handler)).Methods(http.MethodOptions, http.MethodGet, http.MethodPut, http.MethodPost)
}

func (f LocalFilesystem) handler(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	u := r.URL
	if u.Scheme == "" && u.Host == "" {
		u.Scheme = f.publicURL.Scheme
		u.Host = f.publicURL.Host
	}

	if !f.isValid(u.String()) {
		logger.Default().Errorf("invalid signature for %s", u.String())
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	key := v.Get("key")
	method := v.Get("method")

	if r.Method != method {
		logger.Default().Errorf("signature valid for %s, but was used for %s in %s", method, r.Method, r.URL.String())
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if strings.Contains(key, "..") {
		http.Error(w, ".. not authorized in keys", http.StatusBadRequest)
		return
	}
	filePath := filepath.Join(f.baseFolder, key, "file")

	logger.Default().Infof("filesystem: [%s] key: '%s'", r.Method, key)
	if r.Method == http.MethodGet {
		http.ServeFile(w, r, filePath)
		return
	}
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		var src io.ReadCloser
		contentType := r.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "multipart/form-data") {
			err := r.ParseMultipartForm(200 * 1024 * 1024)
			if err != nil {
				logger.Default().WithError(err).Errorf("Error 1200: could not call ParseMultipartForm %s key: '%s'", r.URL.String(), key)
				http.Error(w, "Error 1200", http.StatusInternalServerError)
				return
			}
			file, _, err := r.FormFile(key)
			if err != nil {
				logger.Default().WithError(err).Errorf("Error 1201: could not read FormFile %s key: '%s'", r.URL.String(), key)
				http.Error(w, "Error 1201", http.StatusInternalServerError)
				return
			}
			src = file
		} else {
			src = r.Body
		}
		defer src.Close()

		err := os.MkdirAll(path.Join(f.baseFolder, key), 0700)
		if err != nil {
			logger.Default().WithError(err).Errorf("Error 1202: could not create `%s` key: '%s'", f.baseFolder+key, key)
			http.Error(w, "Error 1202", http.StatusInternalServerError)
			return
		}

		dstFile, err := os.Create(filePath)
		if err != nil {
			logger.Default().WithError(err).Errorf("Error 1203: could not create `%s` key: '%s'", f.baseFolder+key, key)
			http.Error(w, "Error 1203", http.StatusInternalServerError)
			return
		}
		defer dstFile.Close()
		_, err = io.Copy(dstFile, src)
		if err != nil {
			logger.Default().WithError(err).Errorf("Error 1204: could not copy `%s` key: '%s'", f.baseFolder+key, key)
			http.Error(w, "Error 1204", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// UploadData stores data under a new key
func (f LocalFilesystem) UploadData(key string, data []byte) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("'..' is not allowed in a key")
	}
	err := os.MkdirAll(path.Join(f.baseFolder, key), 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(path.Join(f.baseFolder, key, "file"), data, 0600)
}

// Delete deletes the key file
func (f LocalFilesystem) Delete(key string) error {
	filePath := filepath.Join(f.baseFolder, key)
	return os.RemoveAll(filePath)
}

// DeleteAllWithPrefix deletes all keys starting with key
func (f LocalFilesystem) DeleteAllWithPrefix(key string) error {
	filePath := filepath.Join(f.baseFolder, key)
	return os.RemoveAll(filePath)
}

// GetPreSignedURL returns a pre-signed URL that can be used with the given method
// until the expireIn duration has passed. key must be a valid file name
func (f LocalFilesystem) GetPreSignedURL(method Method, key string, expireIn time.Duration) (URL string, err error) {
	if strings.Contains(key, "..") {
		err = fmt.Errorf("'..' is not allowed in a key")
		return
	}
	v := url.Values{}
	v.Set("key", key)
	v.Set("expiry", time.Now().Add(expireIn).UTC().Format(time.RFC3339))
	v.Set("method", string(method))
	u := url.URL{
		Scheme:   f.publicURL.Scheme,
		Host:     f.publicURL.Host,
		Path:     f.publicURL.Path + "/jobcard/filesystem",
		RawQuery: v.Encode(),
	}

	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	hashed := sha256.Sum256(data)

	signature, err := rsa.SignPKCS1v15(rand.Reader, f.privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return
	}

	v.Set("signature", base64.URLEncoding.EncodeToString(signature))
	u.RawQuery = v.Encode()
	URL = u.String()
	return
}

// isValid tells whether or not this url carries a valid signature
func (f LocalFilesystem) isValid(URL string) bool {
	u, err := url.Parse(URL)
	if err != nil {
		return false
	}
	v := u.Query()
	key := v.Get("key")
	if key == "" || strings.Contains(key, "..") {
		return false
	}
	timeStr := v.Get("expiry")
	if timeStr == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil || t.Before(time.Now()) {
		return false
	}

	signature, err := base64.URLEncoding.DecodeString(v.Get("signature"))
	if err != nil {
		return false
	}
	v.Del("signature")
	u.RawQuery = v.Encode()

	data, err := json.Marshal(u)
	if err != nil {
		return false
	}
	hashed := sha256.Sum256(data)
	err = rsa.VerifyPKCS1v15(&f.privateKey.PublicKey, crypto.SHA256, hashed[:], signature)
	return err == nil
}

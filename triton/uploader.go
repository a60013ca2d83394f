package triton

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// An S3Uploader is just a simple wrapper around an S3manager. It just assumes
// default options, and that we will want to upload from some local file name
// to a remote file name.
type S3Uploader struct {
	svc        S3UploaderService
	bucketName string
	logger     *zap.Logger
}

// NewS3Uploader creates an uploader writing to bucketName
func NewS3Uploader(svc S3UploaderService, bucketName string, logger *zap.Logger) *S3Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Uploader{
		svc:        svc,
		bucketName: bucketName,
		logger:     logger,
	}
}

// Upload copies the local file fileName to keyName
func (s *S3Uploader) Upload(ctx context.Context, fileName, keyName string) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	s.logger.Info("Uploading", zap.String("file", fileName), zap.String("key", keyName))
	if err := s.UploadBuf(ctx, f, keyName); err != nil {
		return err
	}
	s.logger.Info("Completed upload", zap.String("key", keyName))
	return nil
}

// UploadBuf copies everything read from r to keyName
func (s *S3Uploader) UploadBuf(ctx context.Context, r io.Reader, keyName string) error {
	_, err := s.svc.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(keyName),
		Body:   r,
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok {
			return errors.Errorf("failed to upload: %v (%v)", awsErr.Code(), awsErr.Message())
		}
		return errors.Wrap(err, "failed to upload")
	}
	return nil
}

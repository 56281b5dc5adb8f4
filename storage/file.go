// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
)

const (
	DbFile      = "db.sqlite"
	DevicesDir  = "devices"
	PackagesDir = "packages"
	AuthDir     = "auth"
	HmacFile    = "hmac.secret"

	partialFileSuffix = "..part"

	// Per device files
	OtaEventsPrefix = "ota-events-"
	MaxOtaEventLogs = 10

	// ChecksumChunkSize is the read size used while hashing package content.
	ChecksumChunkSize = 2 << 20
)

type FsConfig string

func (c FsConfig) RootDir() string {
	return string(c)
}

func (c FsConfig) DbFile() string {
	return filepath.Join(string(c), DbFile)
}

func (c FsConfig) DevicesDir() string {
	return filepath.Join(string(c), DevicesDir)
}

func (c FsConfig) PackagesDir() string {
	return filepath.Join(string(c), PackagesDir)
}

func (c FsConfig) AuthDir() string {
	return filepath.Join(string(c), AuthDir)
}

type FsHandle struct {
	Config FsConfig

	Auth     AuthFsHandle
	Devices  DevicesFsHandle
	Packages PackagesFsHandle
}

func NewFs(root string) (*FsHandle, error) {
	fs := &FsHandle{Config: FsConfig(root)}
	fs.Devices.root = fs.Config.DevicesDir()
	fs.Packages.root = fs.Config.PackagesDir()
	fs.Auth.root = fs.Config.AuthDir()

	for _, h := range []struct {
		handle baseFsHandle
		mode   os.FileMode
	}{
		{fs.Devices.baseFsHandle, 0o740},
		{fs.Packages.baseFsHandle, 0o744},
		{fs.Auth.baseFsHandle, 0o740},
	} {
		if err := h.handle.mkdirs(h.mode, true); err != nil {
			return nil, fmt.Errorf("unable to initialize file storage: %w", err)
		}
	}
	return fs, nil
}

// Checksum returns the hex MD5 of everything read from r and its size. The
// content is consumed in ChecksumChunkSize pieces so large firmware images are
// never held in memory.
func Checksum(r io.Reader) (string, int64, error) {
	h := md5.New()
	n, err := io.CopyBuffer(h, r, make([]byte, ChecksumChunkSize))
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type AuthFsHandle struct {
	baseFsHandle
}

// InitHmacSecret creates the secret API tokens are hashed with. It refuses to
// replace an existing one since that would invalidate every token.
func (h AuthFsHandle) InitHmacSecret() error {
	if _, err := h.readFile(HmacFile); err == nil {
		return fmt.Errorf("hmac secret exists at: %s", filepath.Join(h.root, HmacFile))
	}
	secret := make([]byte, 64)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating HMAC secret: %w", err)
	}
	if err := h.writeFile(HmacFile, secret, 0o640); err != nil {
		return fmt.Errorf("storing HMAC secret: %w", err)
	}
	return nil
}

func (h AuthFsHandle) GetHmacSecret() ([]byte, error) {
	return h.readFile(HmacFile)
}

type DevicesFsHandle struct {
	baseFsHandle
}

func (s DevicesFsHandle) AppendOtaEvent(deviceRef, taskId, content string) error {
	h, err := s.deviceLocalHandle(deviceRef, true)
	if err != nil {
		return err
	}
	name := OtaEventsPrefix + taskId
	if err = h.appendFile(name, content+"\n", 0o744); err != nil {
		return fmt.Errorf("error writing file %s for device %s: %w", name, deviceRef, err)
	}
	if err = h.rolloverFiles(OtaEventsPrefix, MaxOtaEventLogs); err != nil {
		return fmt.Errorf("error rolling over %s files for device %s: %w", OtaEventsPrefix, deviceRef, err)
	}
	return nil
}

func (s DevicesFsHandle) ReadOtaEvents(deviceRef, taskId string) iter.Seq2[string, error] {
	h, _ := s.deviceLocalHandle(deviceRef, false)
	return h.readFileLines(OtaEventsPrefix+taskId, true)
}

// ListOtaEventTasks returns the task ids with an event log for the device,
// oldest first.
func (s DevicesFsHandle) ListOtaEventTasks(deviceRef string) ([]string, error) {
	h, _ := s.deviceLocalHandle(deviceRef, false)
	names, err := h.matchFiles(OtaEventsPrefix, true)
	if err != nil {
		return nil, fmt.Errorf("error listing %s files for device %s: %w", OtaEventsPrefix, deviceRef, err)
	}
	for i := range names {
		names[i] = strings.TrimPrefix(names[i], OtaEventsPrefix)
	}
	return names, nil
}

func (s DevicesFsHandle) RemoveAll(deviceRef string) error {
	h, _ := s.deviceLocalHandle(deviceRef, false)
	return os.RemoveAll(h.root)
}

func (s DevicesFsHandle) deviceLocalHandle(deviceRef string, forUpdate bool) (h baseFsHandle, err error) {
	h.root = filepath.Join(s.root, deviceRef)
	if forUpdate {
		if err = h.mkdirs(0o744, true); err != nil {
			err = fmt.Errorf("unable to create file storage for device %s: %w", deviceRef, err)
		}
	}
	return
}

type PackagesFsHandle struct {
	baseFsHandle
}

func (s PackagesFsHandle) FilePath(id string) string {
	return filepath.Join(s.root, id)
}

// WriteFile stores the package content and returns its size and checksum.
// The file only becomes visible once it is completely written.
func (s PackagesFsHandle) WriteFile(id string, content io.Reader) (md5sum string, size int64, err error) {
	if md5sum, size, err = s.writeStream(id, content, 0o644); err != nil {
		err = fmt.Errorf("unable to write package %s: %w", id, err)
	}
	return
}

func (s PackagesFsHandle) Open(id string) (*os.File, error) {
	return os.Open(s.FilePath(id))
}

func (s PackagesFsHandle) Remove(id string) error {
	if err := os.Remove(s.FilePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unable to remove package %s: %w", id, err)
	}
	return nil
}

type baseFsHandle struct {
	root string
}

func (s baseFsHandle) mkdirs(mode os.FileMode, ignoreExists bool) error {
	if ignoreExists {
		return os.MkdirAll(s.root, mode)
	} else {
		return os.Mkdir(s.root, mode)
	}
}

func (s baseFsHandle) readFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, name))
}

func (s baseFsHandle) writeFile(name string, content []byte, mode os.FileMode) error {
	_, _, err := s.writeStream(name, bytes.NewReader(content), mode)
	return err
}

func (s baseFsHandle) readFileLines(name string, ignoreNotExist bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if fd, err := os.OpenFile(filepath.Join(s.root, name), os.O_RDONLY, 0); err != nil {
			if !ignoreNotExist || !errors.Is(err, os.ErrNotExist) {
				yield("", err)
			}
		} else {
			defer fd.Close() // nolint:errcheck
			scanner := bufio.NewScanner(fd)
			for scanner.Scan() {
				if !yield(scanner.Text(), nil) {
					return
				}
			}
			if err = scanner.Err(); err != nil {
				yield("", err)
			}
		}
	}
}

func (s baseFsHandle) writeStream(name string, content io.Reader, mode os.FileMode) (string, int64, error) {
	path := filepath.Join(s.root, name)
	partial := filepath.Join(s.root, name+partialFileSuffix)
	fd, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return "", 0, err
	}
	sum, size, err := Checksum(io.TeeReader(content, fd))
	if err == nil {
		err = fd.Sync()
	}
	if cerr := fd.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(partial, path)
	}
	if err != nil {
		_ = os.Remove(partial)
		return "", 0, err
	}
	return sum, size, nil
}

func (s baseFsHandle) appendFile(name, content string, mode os.FileMode) error {
	// O_APPEND + O_SYNC on Linux warrants that concurrent file appends up to 1MB are serialized.
	fd, err := os.OpenFile(filepath.Join(s.root, name),
		os.O_CREATE|os.O_APPEND|syscall.O_SYNC|os.O_WRONLY, mode)
	if err == nil {
		_, err = fd.Write([]byte(content))
		if err != nil {
			_ = fd.Close()
		} else {
			err = fd.Close()
		}
	}
	return err
}

func (s baseFsHandle) rolloverFiles(prefix string, max int) error {
	names, err := s.matchFiles(prefix, true)
	if err == nil {
		for i := 0; i < len(names)-max; i++ {
			if err = os.Remove(filepath.Join(s.root, names[i])); err != nil {
				break
			}
		}
	}
	return err
}

func (s baseFsHandle) matchFiles(prefix string, sortByModTime bool) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if info, err := entry.Info(); err != nil {
			return nil, err
		} else {
			name := info.Name()
			if strings.HasSuffix(name, partialFileSuffix) {
				// Filter out partial files - uploads in progress or data corruptions
				continue
			} else if len(prefix) == 0 || strings.HasPrefix(name, prefix) {
				infos = append(infos, info)
			}
		}
	}
	if sortByModTime {
		slices.SortStableFunc(infos, func(a, b os.FileInfo) int {
			return a.ModTime().Compare(b.ModTime())
		})
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

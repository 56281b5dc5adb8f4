// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/foundriesio/dg-ota/context"
	"github.com/foundriesio/dg-ota/storage"
)

func (a Api) PackagesList(ctx context.Context, productId string) (res []storage.Package, err error) {
	err = a.Get(ctx, query("/packages", "productId", productId), &res)
	return
}

func (a Api) PackageGet(ctx context.Context, id string) (*storage.Package, error) {
	return getOne[storage.Package](ctx, a, path("/packages", id))
}

func (a Api) PackageDelete(ctx context.Context, id string) error {
	return a.Delete(ctx, path("/packages", id))
}

// FileMD5 returns the hex MD5 of a local file, read in chunks.
func FileMD5(name string) (string, error) {
	fd, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer fd.Close() //nolint:errcheck
	sum, _, err := storage.Checksum(fd)
	return sum, err
}

var (
	extFilenameRe    = regexp.MustCompile(`filename\*=UTF-8''([^;]+)`)
	quotedFilenameRe = regexp.MustCompile(`filename="([^"]+)"`)
	bareFilenameRe   = regexp.MustCompile(`filename=([^";\s][^;]*)`)
)

// FilenameFromDisposition extracts the file name of a Content-Disposition
// header. The RFC 5987 `filename*` form wins over the plain one. Headers
// without a disposition type, or with an unquoted name containing spaces,
// are matched parameter by parameter. An empty string is returned when no
// usable name is found.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	var name string
	if _, params, err := mime.ParseMediaType(header); err == nil {
		name = params["filename"]
	}
	if name == "" {
		name = matchFilename(header)
	}
	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func matchFilename(header string) string {
	if m := extFilenameRe.FindStringSubmatch(header); m != nil {
		if name, err := url.PathUnescape(strings.TrimSpace(m[1])); err == nil {
			return name
		}
	}
	if m := quotedFilenameRe.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	if m := bareFilenameRe.FindStringSubmatch(header); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// PackageUpload streams a local file to the store. The MD5 is computed
// first and sent along so the server can verify what it received.
func (a Api) PackageUpload(ctx context.Context, file string, p storage.Package) (*storage.Package, error) {
	sum, err := FileMD5(file)
	if err != nil {
		return nil, fmt.Errorf("unable to checksum %s: %w", file, err)
	}
	fd, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer fd.Close() //nolint:errcheck

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"name":        p.Name,
			"version":     p.Version,
			"description": p.Description,
			"entry":       p.Entry,
			"processPath": p.ProcessPath,
			"product":     p.ProductId,
			"md5":         sum,
		}
		for k, v := range fields {
			if v == "" {
				continue
			}
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("file", filepath.Base(file))
		if err == nil {
			_, err = io.Copy(part, fd)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var res storage.Package
	if err := a.do(ctx, http.MethodPost, "/packages", pr, mw.FormDataContentType(), &res); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &res, nil
}

// PackageDownload saves the content of a package into dir under the name
// the server advertises, returning the path written.
func (a Api) PackageDownload(ctx context.Context, id, dir string) (string, error) {
	resource := path("/packages/download", id)
	resp, err := a.send(ctx, http.MethodGet, resource, nil, "")
	if err != nil {
		return "", err
	}
	defer a.closeBody(ctx, resp)
	if resp.StatusCode != http.StatusOK {
		return "", decodeEnvelope(http.MethodGet+" "+resource, resp, nil)
	}

	name := FilenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = id + ".bin"
	}
	dst := filepath.Join(dir, name)
	fd, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(fd, resp.Body); err != nil {
		_ = fd.Close()
		return "", fmt.Errorf("unable to save %s: %w", dst, err)
	}
	return dst, fd.Close()
}

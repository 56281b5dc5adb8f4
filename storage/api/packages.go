// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/foundriesio/dg-ota/storage"
)

func (s *Storage) initPackageStmts() {
	const cols = `id, name, version, description, entry, process_path, product_id, file_path, md5, size, created_at`
	s.stmtPackageList = stmtQuery[Package]{name: "apiPackageList", scan: scanPackage, query: `
		SELECT ` + cols + ` FROM packages
		WHERE ?1 = '' OR product_id = ?1
		ORDER BY created_at DESC, id`}
	s.stmtPackageGet = stmtQuery[Package]{name: "apiPackageGet", scan: scanPackage, query: `
		SELECT ` + cols + ` FROM packages WHERE id = ?`}
	s.stmtPackageInsert = stmtExec{name: "apiPackageInsert", query: `
		INSERT INTO packages (` + cols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`}
	s.stmtPackageDelete = stmtExec{name: "apiPackageDelete", query: `DELETE FROM packages WHERE id = ?`}
	s.stmtPackageInUse = stmtQuery[int]{name: "apiPackageInUse", scan: scanInt, query: `
		SELECT COUNT(*) FROM ota_devices
		WHERE package_id = ? AND status IN ('pending', 'running', 'stopping')`}
}

func scanPackage(row rowScanner) (p Package, err error) {
	var created int64
	if err = row.Scan(
		&p.Id, &p.Name, &p.Version, &p.Description, &p.Entry, &p.ProcessPath,
		&p.ProductId, &p.FilePath, &p.Md5, &p.Size, &created,
	); err == nil {
		p.CreatedAt = fromMillis(created)
	}
	return
}

func (s Storage) PackagesList(productId string) ([]Package, error) {
	return s.stmtPackageList.all(nil, productId)
}

func (s Storage) PackageGet(id string) (*Package, error) {
	return s.stmtPackageGet.one(nil, id)
}

// PackageCreate stores the package content and its record. When md5 is set
// it must match the checksum of the received content.
func (s Storage) PackageCreate(p *Package, content io.Reader) error {
	if p.Name == "" || p.Version == "" {
		return fmt.Errorf("%w: package name and version are required", ErrInvalid)
	}
	if prod, err := s.ProductGet(p.ProductId); err != nil {
		return err
	} else if prod == nil {
		return fmt.Errorf("product %s: %w", p.ProductId, ErrNotFound)
	}
	if p.Entry = strings.TrimSpace(p.Entry); p.Entry == "" {
		p.Entry = storage.DefaultPackageEntry
	}

	p.Id = newId()
	sum, size, err := s.fs.Packages.WriteFile(p.Id, content)
	if err != nil {
		return err
	}
	if p.Md5 != "" && !strings.EqualFold(p.Md5, sum) {
		_ = s.fs.Packages.Remove(p.Id)
		return fmt.Errorf("%w: expected %s, received %s", ErrChecksumMismatch, p.Md5, sum)
	}
	p.Md5 = sum
	p.Size = size
	p.FilePath = s.fs.Packages.FilePath(p.Id)
	created := nowMillis()
	p.CreatedAt = fromMillis(created)
	if _, err = s.stmtPackageInsert.run(nil, p.Id, p.Name, p.Version, p.Description, p.Entry, p.ProcessPath,
		p.ProductId, p.FilePath, p.Md5, p.Size, created); err != nil {
		_ = s.fs.Packages.Remove(p.Id)
		return err
	}
	return nil
}

// PackageOpen returns the package record and its content. The caller closes
// the file.
func (s Storage) PackageOpen(id string) (*Package, *os.File, error) {
	p, err := s.PackageGet(id)
	if err != nil {
		return nil, nil, err
	} else if p == nil {
		return nil, nil, ErrNotFound
	}
	fd, err := s.fs.Packages.Open(id)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open package %s content: %w", id, err)
	}
	return p, fd, nil
}

// PackageDelete refuses to delete a package still being distributed.
func (s Storage) PackageDelete(id string) error {
	if n, err := s.stmtPackageInUse.one(nil, id); err != nil {
		return err
	} else if *n > 0 {
		return fmt.Errorf("package %s is used by %d active OTA devices: %w", id, *n, ErrInUse)
	}
	if err := notFoundIfZero(s.stmtPackageDelete.run(nil, id)); err != nil {
		return err
	}
	return s.fs.Packages.Remove(id)
}

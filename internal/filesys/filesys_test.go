package filesys_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/lc/sift/internal/filesys"
	"github.com/lc/sift/internal/mocks"
)

type FilesysTestSuite struct {
	suite.Suite
	dir string
}

func (s *FilesysTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *FilesysTestSuite) TestAtomicWriteCreatesParentAndFile() {
	dst := filepath.Join(s.dir, "nested", "out.txt")

	err := filesys.AtomicWrite(filesys.OS(), dst, []byte("a.example\n"), 0o644)
	s.Require().NoError(err)

	got, err := os.ReadFile(dst)
	s.Require().NoError(err)
	s.Equal("a.example\n", string(got))

	info, err := os.Stat(dst)
	s.Require().NoError(err)
	s.Equal(os.FileMode(0o644), info.Mode().Perm())
}

func (s *FilesysTestSuite) TestAtomicWriteOverwrites() {
	dst := filepath.Join(s.dir, "out.txt")
	s.Require().NoError(filesys.AtomicWrite(filesys.OS(), dst, []byte("old\n"), 0o644))
	s.Require().NoError(filesys.AtomicWrite(filesys.OS(), dst, []byte("new\n"), 0o644))

	got, err := os.ReadFile(dst)
	s.Require().NoError(err)
	s.Equal("new\n", string(got))

	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Len(entries, 1, "temp files must not be left behind")
}

func (s *FilesysTestSuite) TestAtomicWriteRemovesTempOnRenameFailure() {
	tmp, err := os.CreateTemp(s.dir, ".sift-*")
	s.Require().NoError(err)
	dst := filepath.Join(s.dir, "out.txt")

	m := new(mocks.MockOsFS)
	m.On("MkdirAll", s.dir, mock.Anything).Return(nil)
	m.On("CreateTemp", s.dir, ".sift-*").Return(tmp, nil)
	m.On("Chmod", tmp.Name(), os.FileMode(0o644)).Return(nil)
	m.On("Rename", tmp.Name(), dst).Return(errors.New("rename denied"))
	m.On("Remove", tmp.Name()).Return(nil)

	err = filesys.AtomicWrite(m, dst, []byte("x"), 0o644)
	s.Require().Error(err)
	s.Contains(err.Error(), "rename denied")
	m.AssertExpectations(s.T())
}

func (s *FilesysTestSuite) TestRemoveIfExists() {
	p := filepath.Join(s.dir, "gone.txt")
	s.NoError(filesys.RemoveIfExists(filesys.OS(), p))

	s.Require().NoError(os.WriteFile(p, []byte("x"), 0o644))
	s.NoError(filesys.RemoveIfExists(filesys.OS(), p))
	_, err := os.Stat(p)
	s.True(os.IsNotExist(err))
}

func TestFilesysSuite(t *testing.T) {
	suite.Run(t, new(FilesysTestSuite))
}

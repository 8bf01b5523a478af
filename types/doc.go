// Package types provides core types used across the parley scheduler.
// This package has ZERO dependencies on other parley packages to avoid
// circular imports. All other packages should import types from here.
package types

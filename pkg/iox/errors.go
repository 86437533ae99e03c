package iox

import "errors"

var ErrTooLarge = errors.New("stream exceeds the size limit")

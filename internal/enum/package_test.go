// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enum_test

import "context"

var ctx = context.Background()

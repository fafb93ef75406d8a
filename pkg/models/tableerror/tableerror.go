package tableerror

import "fmt"

const (
	TABLEIO_UNEXPECTED     = "TBLIU"
	TABLEIO_SCAN_FAILURE   = "TBLIS"
	TABLEIO_WRITE_FAILURE  = "TBLIW"
	TABLEIO_NO_TABLE       = "TBLIT"
	TABLEIO_REGISTRY_ERROR = "TBLIR"
	TABLEIO_BOUNDS_ERROR   = "TBLIB"
)

var existingErrorCodeMap = map[string]string{
	TABLEIO_SCAN_FAILURE:   "underlying scan failure",
	TABLEIO_WRITE_FAILURE:  "aggregated write failure",
	TABLEIO_NO_TABLE:       "no such table",
	TABLEIO_REGISTRY_ERROR: "work unit registry error",
	TABLEIO_BOUNDS_ERROR:   "key out of range bounds",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &TableError{}

type TableError struct {
	Err error

	ErrorCode string
}

func New(errorCode string, errorMsg string) *TableError {
	return &TableError{
		Err:       fmt.Errorf("%s", errorMsg),
		ErrorCode: errorCode,
	}
}

func Newf(errorCode string, format string, args ...any) *TableError {
	return &TableError{
		Err:       fmt.Errorf(format, args...),
		ErrorCode: errorCode,
	}
}

func Wrap(errorCode string, err error) *TableError {
	return &TableError{
		Err:       err,
		ErrorCode: errorCode,
	}
}

func (er *TableError) Error() string {
	return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
		er.ErrorCode, GetMessageByCode(er.ErrorCode), er.Err)
}

func (er *TableError) Unwrap() error {
	return er.Err
}
